package cli

import (
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digitorus/pdfcosign/integrity"
)

type hashOutput struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

func (a *app) hashCmd() *cobra.Command {
	var expect string

	cmd := &cobra.Command{
		Use:   "hash <file>...",
		Short: "Print the content hash of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expect != "" {
				data, err := readFile(args[0])
				if err != nil {
					return err
				}
				return integrity.Verify(data, expect)
			}

			results := make([]hashOutput, len(args))
			g, _ := errgroup.WithContext(cmd.Context())
			g.SetLimit(runtime.GOMAXPROCS(0))
			for i, path := range args {
				g.Go(func() error {
					data, err := readFile(path)
					if err != nil {
						return err
					}
					results[i] = hashOutput{File: path, SHA256: integrity.Hash(data).String(), Size: len(data)}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), results)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"File", "SHA-256", "Size"})
			for _, r := range results {
				tw.AppendRow(table.Row{r.File, r.SHA256, r.Size})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&expect, "expect", "", "fail unless the first file has this hash")
	return cmd
}
