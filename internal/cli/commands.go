package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"padessign/go-backend/internal/app"
	"padessign/go-backend/internal/metadata"
	"padessign/go-backend/internal/securestore"
)

func newKeygenCommand(rt *runtime) *cobra.Command {
	var (
		dir    string
		format string
		bits   int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair and store it on a removable device",
		Long: `Generate an RSA key pair. The private key is encrypted under a PIN and
written to privateKey.enc, the public key to publicKey.pem, both in --dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f securestore.Format
			if format != "" {
				parsed, err := securestore.ParseFormat(format)
				if err != nil {
					return err
				}
				f = parsed
			}
			pin, err := rt.readPIN(true)
			if err != nil {
				return err
			}
			res, err := rt.service().GenerateKeys(cmd.Context(), app.GenerateRequest{Dir: dir, PIN: pin, Bits: bits, Format: f})
			if err != nil {
				return err
			}
			rt.success("Key pair written to %s (%d-bit, %s format)", filepath.Dir(res.PrivateKeyPath), res.Bits, res.Format)
			rt.printKey(res.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "device directory (default keys.dir)")
	cmd.Flags().IntVar(&bits, "bits", 0, "RSA modulus size (default keys.bits)")
	cmd.Flags().StringVar(&format, "format", "", "private key format: legacy or sealed (default keys.format)")
	return cmd
}

func newSignCommand(rt *runtime) *cobra.Command {
	var (
		keyDir   string
		output   string
		name     string
		reason   string
		location string
	)
	cmd := &cobra.Command{
		Use:   "sign <document.pdf>",
		Short: "Sign a PDF with the key on a removable device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" {
				rt.cfg.Signer.Name = name
			}
			if reason != "" {
				rt.cfg.Signer.Reason = reason
			}
			if location != "" {
				rt.cfg.Signer.Location = location
			}
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			pin, err := rt.readPIN(false)
			if err != nil {
				return err
			}
			res, err := rt.service().SignDocument(cmd.Context(), app.SignRequest{
				DocumentPath: args[0],
				KeyDir:       keyDir,
				PIN:          pin,
				OutputPath:   output,
			})
			if err != nil {
				return err
			}
			rt.success("Signed document saved to %s", res.OutputPath)
			rt.printRecord(res.Record)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyDir, "key-dir", "", "device directory holding privateKey.enc (default keys.dir)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default Signed_<name> next to the input)")
	cmd.Flags().StringVar(&name, "name", "", "signer name (default signer.name)")
	cmd.Flags().StringVar(&reason, "reason", "", "signing reason (default signer.reason)")
	cmd.Flags().StringVar(&location, "location", "", "signing location (default signer.location)")
	return cmd
}

func newVerifyCommand(rt *runtime) *cobra.Command {
	var publicKey string
	cmd := &cobra.Command{
		Use:   "verify <document.pdf>",
		Short: "Verify a signed PDF against a public key",
		Long: `Verify the signature stored in a PDF. Without --public-key, publicKey.pem is
looked up in keys.dir and then in every keys.searchDirs entry.

Exit status is 0 for a valid signature, 2 for an invalid one and 1 when the
check could not be carried out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rt.service().VerifyDocument(cmd.Context(), app.VerifyRequest{
				DocumentPath:  args[0],
				PublicKeyPath: publicKey,
			})
			if err != nil {
				return err
			}
			if !res.Valid {
				fmt.Fprint(rt.streams.Out, pterm.Error.Sprintln("Signature is INVALID for key "+res.PublicKeyPath+"."))
				return &exitError{code: ExitSignatureInvalid, msg: "signature invalid"}
			}
			rt.success("Signature is valid (key %s)", res.PublicKeyPath)
			rt.printRecord(res.Record)
			rt.printKey(res.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "path to publicKey.pem")
	return cmd
}

func newInspectCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <document.pdf>",
		Short: "Show the signing record of a PDF without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rt.service().Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Signed {
				fmt.Fprint(rt.streams.Out, pterm.Warning.Sprintln("The document carries no signature."))
				return nil
			}
			table, err := pterm.DefaultTable.WithData(recordRows(res.Record)).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.streams.Out, table)
			fmt.Fprint(rt.streams.Out, pterm.Info.Sprintln("Not verified. Run 'padessign verify' to check the signature."))
			return nil
		},
	}
}

func newFingerprintCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <publicKey.pem>",
		Short: "Print a public key's ID and word list for comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rt.service().Fingerprint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rt.printKey(info)
			return nil
		},
	}
}

func newDoctorCommand(rt *runtime) *cobra.Command {
	var (
		dir      string
		checkPIN bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that a key device is ready for signing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.DoctorRequest{Dir: dir}
			if checkPIN {
				pin, err := rt.readPIN(false)
				if err != nil {
					return err
				}
				req.PIN = pin
			}
			report, err := rt.service().Doctor(cmd.Context(), req)
			if err != nil {
				return err
			}
			rows := [][]string{{"Check", "Result", "Detail"}}
			for _, c := range report.Checks {
				result := "pass"
				if !c.Pass {
					result = "FAIL"
				}
				rows = append(rows, []string{c.Name, result, c.Reason})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.streams.Out, table)
			if !report.Ready {
				return fmt.Errorf("key device %s is not ready", report.Dir)
			}
			rt.success("Key device %s is ready", report.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "device directory (default keys.dir)")
	cmd.Flags().BoolVar(&checkPIN, "check-pin", false, "also unlock the private key and match it against the public key")
	return cmd
}

func newVersionCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skips configuration loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(rt.streams.Out, "padessign version=%s commit=%s build_date=%s\n",
				rt.build.Version, rt.build.Commit, rt.build.BuildDate)
			return nil
		},
	}
}

func (rt *runtime) success(format string, args ...any) {
	fmt.Fprint(rt.streams.Out, pterm.Success.Sprintln(fmt.Sprintf(format, args...)))
}

func (rt *runtime) printRecord(rec metadata.Record) {
	for _, row := range recordRows(rec) {
		fmt.Fprintf(rt.streams.Out, "  %-17s %s\n", row[0]+":", row[1])
	}
}

func (rt *runtime) printKey(info app.KeyInfo) {
	if info.ID == "" {
		return
	}
	fmt.Fprintf(rt.streams.Out, "  %-17s %s\n", "Key ID:", info.ID)
	fmt.Fprintf(rt.streams.Out, "  %-17s %s\n", "Key words:", strings.Join(info.Words, " "))
}

func recordRows(rec metadata.Record) [][]string {
	signedAt := "unknown"
	if !rec.SigningTime.IsZero() {
		signedAt = rec.SigningTime.UTC().Format(time.RFC3339)
	}
	return [][]string{
		{"Signer", rec.SignerName},
		{"Signing time", signedAt},
		{"Reason", rec.SigningReason},
		{"Location", rec.SigningLocation},
	}
}
