package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digitorus/pdfcosign"
	"github.com/digitorus/pdfcosign/keys"
	"github.com/digitorus/pdfcosign/verify"
)

// ErrVerificationFailed is returned when at least one document does not
// verify.
var ErrVerificationFailed = errors.New("verification failed")

type verifyOutput struct {
	File     string           `json:"file"`
	Response *verify.Response `json:"response,omitempty"`
	Record   string           `json:"record,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (o verifyOutput) ok() bool {
	if o.Error != "" || o.Response == nil {
		return false
	}
	for _, s := range o.Response.Signatures {
		if !s.Validation.ValidSignature || !s.Validation.CoversWholeDocument {
			return false
		}
	}
	return true
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		rootsFile      string
		allowUntrusted bool
		code           string
	)

	cmd := &cobra.Command{
		Use:   "verify <file>...",
		Short: "Verify the signatures of signed documents",
		Long: `Verify checks every signature field of each document. A sealed document
verifies when its signature is valid and covers the whole file.

With --code the document is also compared with the recorded artifact of
that verification code.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code != "" && len(args) != 1 {
				return fmt.Errorf("--code verifies exactly one document")
			}

			opts := verify.VerifyOptions{AllowUntrustedRoots: allowUntrusted}
			if rootsFile != "" {
				certs, err := keys.LoadCertsFromPemDer(rootsFile)
				if err != nil {
					return err
				}
				opts.Roots = x509.NewCertPool()
				for _, c := range certs {
					opts.Roots.AddCert(c)
				}
			}

			results := make([]verifyOutput, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(runtime.GOMAXPROCS(0))
			for i, path := range args {
				g.Go(func() error {
					results[i] = verifyFile(path, opts)
					return ctx.Err()
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if code != "" {
				engine, res, err := a.newEngine(cmd.Context())
				if err != nil {
					return err
				}
				defer res.Close()
				if data, err := readFile(args[0]); err != nil {
					results[0].Error = err.Error()
				} else if rec, err := engine.VerifyArtifact(cmd.Context(), code, data); err != nil {
					results[0].Error = err.Error()
				} else {
					results[0].Record = rec.ID
				}
			}

			if err := a.printVerify(cmd, results); err != nil {
				return err
			}
			for _, r := range results {
				if !r.ok() {
					return ErrVerificationFailed
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&rootsFile, "roots", "", "PEM or DER file with trusted root certificates (default: system roots)")
	f.BoolVar(&allowUntrusted, "allow-untrusted-roots", false, "trust certificates embedded in the document (use with caution)")
	f.StringVar(&code, "code", "", "verification code printed on a stamp")
	return cmd
}

func verifyFile(path string, opts verify.VerifyOptions) verifyOutput {
	out := verifyOutput{File: path}
	data, err := readFile(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	resp, err := pdfcosign.Verify(data, opts)
	out.Response = resp
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (a *app) printVerify(cmd *cobra.Command, results []verifyOutput) error {
	if a.jsonOutput() {
		return printJSON(cmd.OutOrStdout(), results)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"File", "Field", "Signer", "Valid", "Trusted", "Whole file", "Error"})
	for _, r := range results {
		if r.Response == nil || len(r.Response.Signatures) == 0 {
			tw.AppendRow(table.Row{r.File, "", "", false, false, false, r.Error})
			continue
		}
		for _, s := range r.Response.Signatures {
			msg := s.Validation.Error
			if msg == "" {
				msg = r.Error
			}
			tw.AppendRow(table.Row{
				r.File,
				s.Info.Field,
				s.Info.Name,
				s.Validation.ValidSignature,
				s.Validation.TrustedIssuer,
				s.Validation.CoversWholeDocument,
				msg,
			})
		}
	}
	tw.Render()
	return nil
}
