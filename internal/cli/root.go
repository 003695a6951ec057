// Package cli wires the signer's use cases to a cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"padessign/go-backend/internal/app"
	"padessign/go-backend/internal/config"
	"padessign/go-backend/internal/metrics"
	"padessign/go-backend/internal/platform/logging"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitSignatureInvalid = 2
)

// BuildInfo is stamped by the linker in cmd/padessign.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Streams are the process standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// exitError carries a non-default exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type runtime struct {
	build   BuildInfo
	streams Streams

	configPath string
	verbose    bool
	pinStdin   bool

	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	logCloser io.Closer
	svc       app.SignerAPI

	// readPassword prompts without echo; replaced in tests.
	readPassword func(prompt string) (string, error)
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, build BuildInfo, streams Streams, args []string) int {
	rt := &runtime{build: build, streams: streams}
	rt.readPassword = rt.terminalPassword
	if isTerminal(streams.Out) && isTerminal(streams.Err) {
		pterm.EnableStyling()
	} else {
		pterm.DisableStyling()
	}

	root := newRoot(rt)
	root.SetArgs(args)
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	err := root.ExecuteContext(ctx)
	rt.close()
	return rt.report(err)
}

func newRoot(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "padessign",
		Short: "Sign and verify PDF documents with a PIN-protected key on removable media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.setup()
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&rt.configPath, "config", "", "path to padessign.yaml (default: search standard locations, or $"+config.EnvConfigPath+")")
	flags.BoolVarP(&rt.verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&rt.pinStdin, "pin-stdin", false, "read the PIN from the first line of standard input")

	cmd.AddCommand(
		newKeygenCommand(rt),
		newSignCommand(rt),
		newVerifyCommand(rt),
		newInspectCommand(rt),
		newFingerprintCommand(rt),
		newDoctorCommand(rt),
		newVersionCommand(rt),
	)
	return cmd
}

func (rt *runtime) setup() error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	if rt.verbose {
		cfg.Log.Level = "debug"
	}
	logger, closer, err := logging.New(cfg.Log, rt.streams.Err)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = logger
	rt.logCloser = closer
	rt.metrics = metrics.New()
	return nil
}

// service builds the app service from the effective configuration. Commands
// that override configuration from flags do so before the first call.
func (rt *runtime) service() app.SignerAPI {
	if rt.svc == nil {
		rt.svc = app.NewService(rt.cfg, app.WithLogger(rt.logger), app.WithMetrics(rt.metrics))
	}
	return rt.svc
}

func (rt *runtime) close() {
	if rt.metrics != nil {
		if err := rt.metrics.WriteTextfile(rt.cfg.Metrics.Textfile); err != nil && rt.logger != nil {
			rt.logger.Warn("metrics textfile not written", "error", err)
		}
	}
	if rt.logCloser != nil {
		_ = rt.logCloser.Close()
	}
}

// isTerminal reports whether w is a file attached to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// report prints err and maps it to an exit code.
func (rt *runtime) report(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprint(rt.streams.Err, pterm.Error.Sprintln(describe(err)))
	return ExitFailure
}
