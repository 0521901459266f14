// Package cli implements the pdfcosign command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/digitorus/pdfcosign/config"
	"github.com/digitorus/pdfcosign/internal/logger"
)

// EnvPrefix prefixes the environment variables that override flags.
const EnvPrefix = "PDFCOSIGN"

// app carries the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand returns the pdfcosign command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "pdfcosign",
		Short: "Incremental multi-party PDF signing",
		Long: `pdfcosign stamps a PDF for each signer of a document in turn and seals it
with a digital signature once the last signer has submitted.

Sessions live in the configured allocator. With the default in-memory
allocator every invocation starts a new session; configure the redis or
postgres allocator to share sessions between invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", config.DefaultLocation, "configuration file")
	flags.Bool("json", false, "output JSON")
	flags.String("log-env", "", "log encoder: production or development")
	flags.String("log-level", "", "log level")
	flags.String("allocator", "", "session allocator: memory, redis or postgres")
	flags.String("allocator-url", "", "redis URL or postgres DSN")
	flags.String("store", "", "record store: memory or sqlite")
	flags.String("store-path", "", "sqlite database path")
	for _, name := range []string{"config", "json", "log-env", "log-level", "allocator", "allocator-url", "store", "store-path"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(a.submitCmd())
	root.AddCommand(a.sessionCmd())
	root.AddCommand(a.lookupCmd())
	root.AddCommand(a.verifyCmd())
	root.AddCommand(a.hashCmd())
	return root
}

// Execute runs the command line with os.Args.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

// load reads the configuration file and applies flag and environment
// overrides on top of it.
func (a *app) load() error {
	cfg, err := config.Read(a.v.GetString("config"))
	if err != nil {
		return err
	}

	override := func(key string, dst *string) {
		if s := a.v.GetString(key); s != "" {
			*dst = s
		}
	}
	override("log-env", &cfg.Log.Env)
	override("log-level", &cfg.Log.Level)
	override("allocator", &cfg.Allocator.Backend)
	override("allocator-url", &cfg.Allocator.URL)
	override("store", &cfg.Store.Backend)
	override("store-path", &cfg.Store.Path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = log
	return nil
}

func (a *app) jsonOutput() bool {
	return a.v.GetBool("json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
