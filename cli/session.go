package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/digitorus/pdfcosign/session"
)

type sessionOutput struct {
	Identity     string    `json:"identity"`
	State        string    `json:"state"`
	Progress     string    `json:"progress"`
	TotalSigners int       `json:"total_signers"`
	Completed    int       `json:"completed"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *app) sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <identity|file name>",
		Short: "Show the signing session of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, res, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer res.Close()

			identity := session.IdentityFromFilename(args[0])
			s, err := engine.Session(cmd.Context(), identity)
			if err != nil {
				return fmt.Errorf("%s: %w", identity, err)
			}

			out := sessionOutput{
				Identity:     string(s.Identity),
				State:        s.State().String(),
				Progress:     s.Progress(),
				TotalSigners: s.TotalSigners,
				Completed:    s.Completed,
				Mode:         string(s.Mode),
				CreatedAt:    s.CreatedAt,
				UpdatedAt:    s.UpdatedAt,
			}
			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), out)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Identity", "State", "Progress", "Mode", "Updated"})
			tw.AppendRow(table.Row{out.Identity, out.State, out.Progress, out.Mode, out.UpdatedAt.Format(time.RFC3339)})
			tw.Render()
			return nil
		},
	}
}

func (a *app) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <verification code>",
		Short: "Show the submission that printed a verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, res, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer res.Close()

			rec, err := engine.Lookup(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if a.jsonOutput() {
				rec.Artifact = nil
				return printJSON(cmd.OutOrStdout(), rec)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendRows([]table.Row{
				{"Record", rec.ID},
				{"Identity", rec.Identity},
				{"File", rec.FileName},
				{"Signer", fmt.Sprintf("%s (%d/%d)", rec.Stamp.SignerName, rec.Stamp.Position+1, rec.TotalSigners)},
				{"Signed at", rec.Stamp.SignedAt.Format(time.RFC3339)},
				{"Sealed", rec.Sealed},
				{"SHA-256", rec.ContentHash},
			})
			if rec.WebURL != "" {
				tw.AppendRow(table.Row{"Location", rec.WebURL})
			}
			tw.Render()
			return nil
		},
	}
}
