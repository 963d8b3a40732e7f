package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressli/pressli"
)

// version is set at build time via ldflags.
var version = pressli.Version

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pressli",
	Short: "A small publishing CMS with themes and plugins",
	Long: `Pressli serves a public site rendered by the active theme and an admin
panel for posts, pages, media, menus, users and settings.

Configuration is read from PRESSLI_* environment variables. A .env file in
the working directory is loaded first when present.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pressli version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pressli %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd, userCmd, pluginsCmd, themeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openApp loads the configuration and initializes an App for commands that
// work on the database. The caller must Close it.
func openApp(ctx context.Context) (*pressli.App, *zap.Logger, error) {
	cfg, err := pressli.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	app := pressli.New(cfg, pressli.WithLogger(log))
	if err := app.Init(ctx); err != nil {
		app.Close()
		return nil, log, err
	}
	return app, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, log, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer app.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Start(ctx) })
	if app.Config.PluginWatch {
		g.Go(func() error { return app.Plugins.Watch(ctx, 500*time.Millisecond) })
	}
	if days := app.Config.TrashRetentionDays; days > 0 {
		g.Go(func() error {
			stopTrash := app.Posts.StartTrashScheduler(days, time.Hour)
			<-ctx.Done()
			stopTrash()
			return nil
		})
	}

	if app.Analytics != nil && app.Config.AnalyticsRetentionDays > 0 {
		g.Go(func() error {
			stopCleanup := app.Analytics.StartCleanupScheduler(app.Config.AnalyticsRetentionDays, 24*time.Hour, log.Named("analytics"))
			<-ctx.Done()
			stopCleanup()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
