package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bturcanu/certproof/pkg/types"
)

var (
	issueSubject string
	issueCourse  string
	revokeReason string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newClient().Issue(cmd.Context(), types.IssueInput{
			SubjectName:      issueSubject,
			CourseOrExamName: issueCourse,
		})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		color.New(color.FgGreen, color.Bold).Fprintln(w, "✓ certificate issued")
		fmt.Fprintf(w, "  id:      %s\n", out.Record.CertificateID)
		fmt.Fprintf(w, "  digest:  %s\n", out.Record.Digest)
		fmt.Fprintf(w, "  issued:  %s\n", out.Record.IssuedAt().Format("2006-01-02 15:04:05Z"))
		if out.DocumentURL != "" {
			fmt.Fprintf(w, "  document: %s\n", out.DocumentURL)
		}
		if out.RenderError != "" {
			color.New(color.FgYellow).Fprintf(w, "  ! document rendering failed: %s\n", out.RenderError)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <certificate-id>",
	Short: "Print the stored record for a certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <certificate-id>",
	Short: "Revoke a certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().Revoke(cmd.Context(), args[0], revokeReason)
		if err != nil {
			return err
		}
		color.New(color.FgYellow, color.Bold).Fprintf(cmd.OutOrStdout(), "certificate %s revoked\n", rec.CertificateID)
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVar(&issueSubject, "subject", "", "subject name (required)")
	issueCmd.Flags().StringVar(&issueCourse, "course", "", "course or exam name (required)")
	_ = issueCmd.MarkFlagRequired("subject")
	_ = issueCmd.MarkFlagRequired("course")

	revokeCmd.Flags().StringVar(&revokeReason, "reason", "", "revocation reason")
}
