// Package config loads signer settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"padessign/go-backend/internal/keygen"
	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/securestore"
)

const (
	EnvConfigPath  = "PADES_CONFIG"
	EnvSignerName  = "PADES_SIGNER_NAME"
	EnvReason      = "PADES_SIGNING_REASON"
	EnvLocation    = "PADES_SIGNING_LOCATION"
	EnvKeyDir      = "PADES_KEY_DIR"
	EnvSearchDirs  = "PADES_KEY_SEARCH_DIRS"
	EnvKeyFormat   = "PADES_KEY_FORMAT"
	EnvLogLevel    = "PADES_LOG_LEVEL"
	EnvLogFile     = "PADES_LOG_FILE"
	EnvMetricsFile = "PADES_METRICS_TEXTFILE"
)

type Config struct {
	Signer  SignerConfig
	Keys    KeysConfig
	PIN     PINConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type SignerConfig struct {
	Name         string
	Reason       string
	Location     string
	OutputPrefix string
}

type KeysConfig struct {
	Dir            string
	PrivateKeyName string
	PublicKeyName  string
	SearchDirs     []string
	Format         securestore.Format
	Bits           int
}

type PINConfig struct {
	MinLength         int
	MaxLength         int
	DigitsOnly        bool
	AttemptsPerMinute float64
	Burst             int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type MetricsConfig struct {
	Textfile string
}

func Default() Config {
	return Config{
		Signer: SignerConfig{
			Name:         currentUser(),
			Reason:       "Document approval",
			Location:     "Gdansk, Poland",
			OutputPrefix: "Signed_",
		},
		Keys: KeysConfig{
			PrivateKeyName: keystore.DefaultPrivateKeyName,
			PublicKeyName:  keystore.DefaultPublicKeyName,
			Format:         securestore.FormatLegacy,
			Bits:           keygen.DefaultBits,
		},
		PIN: PINConfig{
			MinLength:         4,
			MaxLength:         12,
			DigitsOnly:        true,
			AttemptsPerMinute: 5,
			Burst:             3,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// fileConfig mirrors the YAML layout. Pointers mark optional values.
type fileConfig struct {
	Signer struct {
		Name         string `yaml:"name"`
		Reason       string `yaml:"reason"`
		Location     string `yaml:"location"`
		OutputPrefix string `yaml:"outputPrefix"`
	} `yaml:"signer"`
	Keys struct {
		Dir            string   `yaml:"dir"`
		PrivateKeyName string   `yaml:"privateKeyName"`
		PublicKeyName  string   `yaml:"publicKeyName"`
		SearchDirs     []string `yaml:"searchDirs"`
		Format         string   `yaml:"format"`
		Bits           int      `yaml:"bits"`
	} `yaml:"keys"`
	PIN struct {
		MinLength         int      `yaml:"minLength"`
		MaxLength         int      `yaml:"maxLength"`
		DigitsOnly        *bool    `yaml:"digitsOnly"`
		AttemptsPerMinute *float64 `yaml:"attemptsPerMinute"`
		Burst             int      `yaml:"burst"`
	} `yaml:"pin"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"log"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// Load reads configPath (or the first readable default candidate), merges it
// over Default, applies environment overrides and validates the result. An
// explicitly named file that cannot be read or parsed is an error; missing
// default candidates are skipped.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	candidates := []string{configPath}
	explicit := configPath != ""
	if !explicit {
		candidates = defaultCandidates()
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("read config %q: %w", path, err)
			}
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
		if err := merge(&cfg, parsed); err != nil {
			return Config{}, fmt.Errorf("config %q: %w", path, err)
		}
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultCandidates() []string {
	out := []string{"padessign.yaml", "configs/padessign.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "padessign", "config.yaml"))
	}
	return out
}

func merge(dst *Config, src fileConfig) error {
	if src.Signer.Name != "" {
		dst.Signer.Name = src.Signer.Name
	}
	if src.Signer.Reason != "" {
		dst.Signer.Reason = src.Signer.Reason
	}
	if src.Signer.Location != "" {
		dst.Signer.Location = src.Signer.Location
	}
	if src.Signer.OutputPrefix != "" {
		dst.Signer.OutputPrefix = src.Signer.OutputPrefix
	}
	if src.Keys.Dir != "" {
		dst.Keys.Dir = src.Keys.Dir
	}
	if src.Keys.PrivateKeyName != "" {
		dst.Keys.PrivateKeyName = src.Keys.PrivateKeyName
	}
	if src.Keys.PublicKeyName != "" {
		dst.Keys.PublicKeyName = src.Keys.PublicKeyName
	}
	if src.Keys.SearchDirs != nil {
		dst.Keys.SearchDirs = src.Keys.SearchDirs
	}
	if src.Keys.Format != "" {
		f, err := securestore.ParseFormat(src.Keys.Format)
		if err != nil {
			return err
		}
		dst.Keys.Format = f
	}
	if src.Keys.Bits != 0 {
		dst.Keys.Bits = src.Keys.Bits
	}
	if src.PIN.MinLength != 0 {
		dst.PIN.MinLength = src.PIN.MinLength
	}
	if src.PIN.MaxLength != 0 {
		dst.PIN.MaxLength = src.PIN.MaxLength
	}
	if src.PIN.DigitsOnly != nil {
		dst.PIN.DigitsOnly = *src.PIN.DigitsOnly
	}
	if src.PIN.AttemptsPerMinute != nil {
		dst.PIN.AttemptsPerMinute = *src.PIN.AttemptsPerMinute
	}
	if src.PIN.Burst != 0 {
		dst.PIN.Burst = src.PIN.Burst
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.File != "" {
		dst.Log.File = src.Log.File
	}
	if src.Log.MaxSizeMB != 0 {
		dst.Log.MaxSizeMB = src.Log.MaxSizeMB
	}
	if src.Log.MaxBackups != 0 {
		dst.Log.MaxBackups = src.Log.MaxBackups
	}
	if src.Log.MaxAgeDays != 0 {
		dst.Log.MaxAgeDays = src.Log.MaxAgeDays
	}
	if src.Log.Compress != nil {
		dst.Log.Compress = *src.Log.Compress
	}
	if src.Metrics.Textfile != "" {
		dst.Metrics.Textfile = src.Metrics.Textfile
	}
	return nil
}

func ApplyEnvOverrides(cfg *Config) error {
	setString(&cfg.Signer.Name, EnvSignerName)
	setString(&cfg.Signer.Reason, EnvReason)
	setString(&cfg.Signer.Location, EnvLocation)
	setString(&cfg.Keys.Dir, EnvKeyDir)
	setString(&cfg.Log.Level, EnvLogLevel)
	setString(&cfg.Log.File, EnvLogFile)
	setString(&cfg.Metrics.Textfile, EnvMetricsFile)
	if v := strings.TrimSpace(os.Getenv(EnvSearchDirs)); v != "" {
		cfg.Keys.SearchDirs = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvKeyFormat)); v != "" {
		f, err := securestore.ParseFormat(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvKeyFormat, err)
		}
		cfg.Keys.Format = f
	}
	return nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if strings.ContainsRune(c.Signer.Name+c.Signer.Reason+c.Signer.Location, '|') {
		return errors.New("invalid signer attributes: '|' is reserved by the keywords format")
	}
	if strings.TrimSpace(c.Signer.OutputPrefix) == "" {
		return errors.New("invalid signer.outputPrefix: must not be empty")
	}
	if c.Keys.Bits < keygen.MinBits {
		return fmt.Errorf("invalid keys.bits: must be >= %d", keygen.MinBits)
	}
	if c.PIN.MinLength <= 0 || c.PIN.MaxLength < c.PIN.MinLength {
		return fmt.Errorf("invalid pin length bounds %d..%d", c.PIN.MinLength, c.PIN.MaxLength)
	}
	if c.PIN.AttemptsPerMinute < 0 {
		return errors.New("invalid pin.attemptsPerMinute: must be >= 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == os.PathListSeparator })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		// Windows reports DOMAIN\user.
		if i := strings.LastIndex(name, `\`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "unknown"
}
