// Package cli implements the askdexctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kailas-cloud/askdex/internal/version"
	askdex "github.com/kailas-cloud/askdex/pkg/sdk"
)

const (
	keyServer  = "server"
	keyAPIKey  = "api_key"
	keyTimeout = "timeout"
	keyDebug   = "debug"
)

// app carries state shared by every command.
type app struct {
	v   *viper.Viper
	out io.Writer
	err io.Writer

	// newClient is replaced in tests.
	newClient func() (*askdex.Client, error)
}

// NewRootCommand builds the command tree. Flags win over ASKDEX_* environment
// variables, which win over the config file.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, err: errOut}
	a.newClient = a.client

	var cfgFile string
	root := &cobra.Command{
		Use:           "askdexctl",
		Short:         "Command line client for the askdex answer engine",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.loadConfig(cfgFile)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.String(keyServer, "http://localhost:8080", "askdex server URL")
	pf.String("api-key", "", "API key sent as a Bearer token")
	pf.Duration(keyTimeout, 5*time.Minute, "overall request timeout")
	pf.Bool(keyDebug, false, "log SDK operations to stderr")

	_ = a.v.BindPFlag(keyServer, pf.Lookup(keyServer))
	_ = a.v.BindPFlag(keyAPIKey, pf.Lookup("api-key"))
	_ = a.v.BindPFlag(keyTimeout, pf.Lookup(keyTimeout))
	_ = a.v.BindPFlag(keyDebug, pf.Lookup(keyDebug))

	root.AddCommand(
		a.ingestCommand(),
		a.sourceCommand(),
		a.askCommand(),
		a.chatCommand(),
		a.modelsCommand(),
		a.usageCommand(),
		a.healthCommand(),
		a.watchCommand(),
	)
	return root
}

// Execute runs askdexctl and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func (a *app) loadConfig(cfgFile string) error {
	_ = godotenv.Load()

	a.v.SetEnvPrefix("ASKDEX")
	a.v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func (a *app) client() (*askdex.Client, error) {
	opts := []askdex.Option{askdex.WithUserAgent("askdexctl/" + version.Version)}
	if key := a.v.GetString(keyAPIKey); key != "" {
		opts = append(opts, askdex.WithAPIKey(key))
	}
	if a.v.GetBool(keyDebug) {
		opts = append(opts, askdex.WithLogger(slog.New(slog.NewTextHandler(a.err, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	return askdex.New(a.v.GetString(keyServer), opts...)
}
