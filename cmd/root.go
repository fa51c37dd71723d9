// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/family-crawler/internal/app"
	"github.com/JakeFAU/family-crawler/internal/config"
	"github.com/JakeFAU/family-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests swap it to observe the loaded
// config without touching real providers.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command with a fresh viper instance so
// repeated invocations in tests never share flag bindings.
func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Crawls a remote directory tree and publishes file families to a queue.",
		Long: `crawler walks a directory tree exposed by a listing API (or a local
filesystem), groups each directory's files into families, and publishes them
in batches to a per-crawl message queue. Crawl status is recorded in a
registry and failure reports are written to blob storage.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{app: appInstance, cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return
			}
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(v))
	return cmd
}

// session carries what subcommands need from the pre-run hook.
type session struct {
	app    *app.App
	cfg    config.Config
	logger *zap.Logger
	once   sync.Once
}

// close runs once. Cobra skips the post-run hook when RunE fails, so
// subcommands also defer it.
func (s *session) close() {
	s.once.Do(func() {
		if err := s.app.Close(); err != nil {
			s.logger.Warn("close application services", zap.Error(err))
		}
		_ = s.logger.Sync()
	})
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(appKey).(*session)
	if !ok || s == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// bindFlag maps a command flag onto a config key; flags win over file and env.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute runs the CLI with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "crawler:", err)
		return 1
	}
	return 0
}
