package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitorus/pdfcosign"
	"github.com/digitorus/pdfcosign/session"
)

// submitOutput is the machine readable outcome of a submission.
type submitOutput struct {
	Identity         string     `json:"identity"`
	Position         int        `json:"position"`
	Progress         string     `json:"progress"`
	Sealed           bool       `json:"sealed"`
	VerificationCode string     `json:"verification_code"`
	ContentHash      string     `json:"content_hash"`
	Output           string     `json:"output"`
	Page             int        `json:"page"`
	Rect             [4]float64 `json:"rect"`
	RecordID         string     `json:"record_id,omitempty"`
	WebURL           string     `json:"web_url,omitempty"`
}

func (a *app) submitCmd() *cobra.Command {
	var (
		sub       pdfcosign.Submission
		mode      string
		document  string
		stampPath string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Stamp a document for the next signer",
		Example: `  pdfcosign submit --document contract.pdf --stamp alice.png --signer "Alice" --total 2
  pdfcosign submit --document contract_signed_20240309_140500.pdf --stamp bob.png --signer "Bob" --total 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if sub.Document, err = readFile(document); err != nil {
				return err
			}
			if sub.StampImage, err = readFile(stampPath); err != nil {
				return err
			}
			if sub.OriginalFilename == "" {
				sub.OriginalFilename = filepath.Base(document)
			}
			sub.Mode = session.Mode(mode)

			engine, res, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer res.Close()

			result, err := engine.SubmitSignature(cmd.Context(), sub)
			var de *pdfcosign.DeliveryError
			if err != nil && !errors.As(err, &de) {
				return err
			}

			// A delivery failure still produced the artifact; keep it.
			path := output
			if path == "" {
				path = result.Filename
			} else if fi, statErr := os.Stat(path); statErr == nil && fi.IsDir() {
				path = filepath.Join(path, result.Filename)
			}
			if werr := os.WriteFile(path, result.Artifact, 0o644); werr != nil {
				return fmt.Errorf("failed to write %s: %w", path, werr)
			}
			a.logger.Info("artifact written", zap.String("path", path), zap.Bool("sealed", result.Sealed))

			if perr := a.printSubmit(cmd, result, path); perr != nil {
				return perr
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&document, "document", "", "PDF to stamp")
	f.StringVar(&stampPath, "stamp", "", "stamp image")
	f.StringVarP(&output, "output", "o", "", "output file or directory (default: delivered file name)")
	f.StringVar((*string)(&sub.Identity), "identity", "", "session identity (default: derived from the file name)")
	f.StringVar(&sub.OriginalFilename, "original-filename", "", "original file name of the document")
	f.IntVar(&sub.TotalSigners, "total", 1, "number of signers")
	f.StringVar(&mode, "mode", string(session.Sequential), "signing mode: sequential or parallel")
	f.StringVar(&sub.SignerName, "signer", "", "signer name")
	f.StringVar(&sub.SignerEmail, "email", "", "signer email")
	f.StringVar(&sub.JobTitle, "job-title", "", "signer job title")
	f.StringVar(&sub.RequestorEmail, "requestor", "", "email of the person who requested the signatures")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("stamp")
	_ = cmd.MarkFlagRequired("signer")
	return cmd
}

func (a *app) printSubmit(cmd *cobra.Command, r *pdfcosign.Result, path string) error {
	out := submitOutput{
		Identity:         string(r.Session.Identity),
		Position:         int(r.Position),
		Progress:         fmt.Sprintf("%d/%d", int(r.Position)+1, r.Session.TotalSigners),
		Sealed:           r.Sealed,
		VerificationCode: r.VerificationCode,
		ContentHash:      r.ContentHash.String(),
		Output:           path,
		Page:             r.Stamp.PageIndex,
		Rect:             r.Stamp.Rect,
		RecordID:         r.RecordID,
	}
	if r.Upload != nil {
		out.WebURL = r.Upload.WebURL
	}
	if a.jsonOutput() {
		return printJSON(cmd.OutOrStdout(), out)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendRows([]table.Row{
		{"Identity", out.Identity},
		{"Signer", fmt.Sprintf("%s (%s)", r.Stamp.SignerName, out.Progress)},
		{"Signed at", r.Stamp.SignedAt.Format(time.RFC3339)},
		{"Sealed", out.Sealed},
		{"Verification code", out.VerificationCode},
		{"SHA-256", out.ContentHash},
		{"Output", out.Output},
	})
	if out.WebURL != "" {
		tw.AppendRow(table.Row{"Uploaded", out.WebURL})
	}
	tw.Render()
	return nil
}
