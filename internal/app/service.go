package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"padessign/go-backend/internal/config"
	"padessign/go-backend/internal/keystore"
	"padessign/go-backend/internal/metrics"
	"padessign/go-backend/internal/pdfinfo"
	"padessign/go-backend/internal/platform/logging"
	"padessign/go-backend/internal/platform/ratelimiter"
)

var (
	ErrInvalidPIN      = errors.New("invalid PIN")
	ErrTooManyAttempts = errors.New("too many PIN attempts")
	ErrOutputIsInput   = errors.New("output path must differ from the document path")
	ErrNoDocumentPath  = errors.New("document path is required")
)

// Service implements SignerAPI over local files.
type Service struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimiter.MapLimiter
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the signing time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(cfg config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		logger:  logging.Discard(),
		limiter: ratelimiter.New(cfg.PIN.AttemptsPerMinute, cfg.PIN.Burst, 0).WithStore(ratelimiter.FileStore{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ SignerAPI = (*Service)(nil)

// ValidatePIN applies the configured policy to a new PIN.
func (s *Service) ValidatePIN(pin string) error {
	n := utf8.RuneCountInString(pin)
	if n < s.cfg.PIN.MinLength || n > s.cfg.PIN.MaxLength {
		return fmt.Errorf("%w: must be %d to %d characters", ErrInvalidPIN, s.cfg.PIN.MinLength, s.cfg.PIN.MaxLength)
	}
	if s.cfg.PIN.DigitsOnly {
		for _, r := range pin {
			if r < '0' || r > '9' {
				return fmt.Errorf("%w: digits only", ErrInvalidPIN)
			}
		}
	}
	return nil
}

func (s *Service) layout(dir string) keystore.Layout {
	if strings.TrimSpace(dir) == "" {
		dir = s.cfg.Keys.Dir
	}
	l := keystore.NewLayout(dir)
	l.PrivateKeyName = s.cfg.Keys.PrivateKeyName
	l.PublicKeyName = s.cfg.Keys.PublicKeyName
	return l
}

// outputPath returns the explicit path or <prefix><name> beside the input.
func (s *Service) outputPath(documentPath, explicit string) (string, error) {
	out := strings.TrimSpace(explicit)
	if out == "" {
		out = filepath.Join(filepath.Dir(documentPath), s.cfg.Signer.OutputPrefix+filepath.Base(documentPath))
	}
	if filepath.Clean(out) == filepath.Clean(documentPath) {
		return "", ErrOutputIsInput
	}
	return out, nil
}

func loadDocument(path string) (*pdfinfo.Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoDocumentPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc, err := pdfinfo.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}
