// Package main is wikictl, the command-line admin client for the game wiki.
//
// It drives the wiki's REST API through the same editor controller a browser
// front end would use, so listing, filtering, paging and saving behave alike.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logging
	logger *zap.Logger

	// Settings resolved from flags, WIKICTL_* env and defaults
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "wikictl",
	Short: "wikictl - admin client for the game wiki",
	Long: `wikictl manages the wiki's collections (champions, relics, items,
powers, runes, guides, maps) over its REST API.

Sign in once with "wikictl login"; the token is kept in the token file and
reused by every write command. Every flag can also be set from the
environment, e.g. WIKICTL_SERVER or WIKICTL_ADMIN_KEY.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(settings.GetBool("verbose"))
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("server", "http://localhost:8080", "Wiki API base URL")
	pf.String("token-file", "", "Session token file (default: $XDG_CONFIG_HOME/wikictl/token)")
	pf.String("admin-key", "", "X-Admin-Key for admin commands")
	pf.String("id-field", "", "Id attribute for resources not in the default set")
	pf.Duration("timeout", 15*time.Second, "HTTP request timeout")
	pf.BoolP("verbose", "v", false, "Enable verbose logging")

	settings.SetEnvPrefix("wikictl")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	_ = settings.BindPFlags(pf)

	rootCmd.AddCommand(loginCmd, logoutCmd)
	rootCmd.AddCommand(listCmd, getCmd, putCmd, newCmd, deleteCmd)
	rootCmd.AddCommand(seedCmd, accountCmd, browseCmd)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
