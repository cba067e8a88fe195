package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bturcanu/certproof/pkg/types"
)

var (
	verifyDocFile string
	verifyDocPDF  string
)

// errNotValid makes the process exit non-zero for any verdict other than verified.
var errNotValid = errors.New("certificate did not verify")

var verifyCmd = &cobra.Command{
	Use:   "verify <certificate-id>",
	Short: "Look up a certificate ID (cannot detect content tampering)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().VerifyID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return report(cmd.OutOrStdout(), *v)
	},
}

var verifyDocCmd = &cobra.Command{
	Use:   "verify-doc",
	Short: "Re-hash a certificate document and compare it with the registry",
	Long: `Verify a certificate document.

Use --file with the JSON metadata extracted from a certificate
({"claimed_digest", "claimed_id", "fields"}), or --pdf to let certd
extract it from the PDF itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			v   *types.Verdict
			err error
		)
		switch {
		case verifyDocFile != "" && verifyDocPDF != "":
			return errors.New("use only one of --file and --pdf")
		case verifyDocFile != "":
			var raw []byte
			if raw, err = os.ReadFile(verifyDocFile); err != nil {
				return err
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var meta types.ExtractedMetadata
			if err := dec.Decode(&meta); err != nil {
				return fmt.Errorf("parse %s: %w", verifyDocFile, err)
			}
			v, err = newClient().VerifyDocument(cmd.Context(), meta)
		case verifyDocPDF != "":
			var pdf []byte
			if pdf, err = os.ReadFile(verifyDocPDF); err != nil {
				return err
			}
			v, err = newClient().VerifyUpload(cmd.Context(), pdf)
		default:
			return errors.New("one of --file or --pdf is required")
		}
		if err != nil {
			return err
		}
		return report(cmd.OutOrStdout(), *v)
	},
}

func init() {
	verifyDocCmd.Flags().StringVar(&verifyDocFile, "file", "", "extracted metadata JSON file")
	verifyDocCmd.Flags().StringVar(&verifyDocPDF, "pdf", "", "certificate PDF")
}

// report prints a verdict and returns errNotValid unless it is verified.
func report(w io.Writer, v types.Verdict) error {
	headline := levelColor(v.SecurityLevel)
	headline.Fprintf(w, "%s %s\n", levelMark(v.SecurityLevel), strings.ToUpper(strings.ReplaceAll(string(v.SecurityLevel), "_", " ")))
	fmt.Fprintf(w, "  %s\n", v.Details.Message)
	if v.Details.CertificateID != "" {
		fmt.Fprintf(w, "  id:      %s\n", v.Details.CertificateID)
	}
	if v.Details.IssuedAt != nil {
		fmt.Fprintf(w, "  issued:  %s\n", v.Details.IssuedAt.Format("2006-01-02 15:04:05Z"))
	}
	if len(v.Details.FailedChecks) > 0 {
		fmt.Fprintf(w, "  failed:  %s\n", strings.Join(v.Details.FailedChecks, ", "))
	}
	fmt.Fprintf(w, "  method:  %s\n", v.Method)
	if v.Method == types.MethodIDLookup && v.Valid {
		color.New(color.Faint).Fprintln(w, "  note: an ID lookup confirms existence only; verify the document to detect tampering")
	}
	if !v.Valid {
		return errNotValid
	}
	return nil
}

func levelColor(l types.SecurityLevel) *color.Color {
	switch l {
	case types.LevelVerified:
		return color.New(color.FgGreen, color.Bold)
	case types.LevelTamperDetected:
		return color.New(color.FgRed, color.Bold)
	case types.LevelRevoked, types.LevelUnknown:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgMagenta)
	}
}

func levelMark(l types.SecurityLevel) string {
	switch l {
	case types.LevelVerified:
		return "✓"
	case types.LevelTamperDetected:
		return "✗"
	default:
		return "!"
	}
}
