package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gorelay/pkg/config"
	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

type flags struct {
	configPath string
	listen     string
	logLevel   string
	logFormat  string
	console    bool
	database   string
}

func main() {
	os.Exit(execute(newRootCmd(), os.Args[1:], os.Stderr))
}

// execute runs cmd with args and reports a failure on stderr. It returns
// the process exit code.
func execute(cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "gorelay: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "gorelay",
		Short:         "gorelay multi-user IRC-style chat server",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML or TOML config file")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: "+logging.LevelNames())
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&f.database, "db", "", "SQLite ban database path (overrides config)")
	root.Flags().StringVarP(&f.listen, "listen", "l", "", "TCP bind address (overrides config)")
	root.Flags().BoolVar(&f.console, "console", false, "Read operator commands from stdin")

	root.AddCommand(newBansCmd(&f), newVersionCmd())
	return root
}

// loadConfig layers defaults, the config file, GORELAY_* variables and
// explicitly set flags, then installs the logger.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	fs := cmd.Flags()
	if fs.Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if fs.Changed("console") {
		cfg.Admin.Console = f.console
	}
	if fs.Changed("db") {
		cfg.Storage.Database = f.database
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	}); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (datastore.BanStore, error) {
	if cfg.Storage.Database == "" {
		slog.Warn("no ban database configured, bans will not survive restarts")
		return datastore.NewMemory(), nil
	}
	return datastore.Open(cfg.Storage.Database)
}

func runServer(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("open database", "err", err)
		return err
	}
	audit, err := logging.OpenAudit(cfg.Storage.AuditLog, cfg.Storage.AuditQueue)
	if err != nil {
		_ = st.Close()
		slog.Error("open audit log", "err", err)
		return err
	}

	srv, err := server.New(*cfg, server.Dependencies{Store: st, Audit: audit})
	if err != nil {
		_ = st.Close()
		_ = audit.Close()
		slog.Error("server init", "err", err)
		return err
	}

	if cfg.Admin.Console {
		console := server.NewConsole(srv.Admin(), os.Stdin, os.Stdout)
		go func() {
			if err := console.Run(ctx); err != nil {
				slog.Error("console error", "err", err)
			}
		}()
	}

	slog.Info("starting gorelay", "version", version.Full())
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		return err
	}
	return nil
}

func newBansCmd(f *flags) *cobra.Command {
	bans := &cobra.Command{
		Use:   "bans",
		Short: "Manage the persisted ban list",
	}

	bans.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print every persisted ban as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			data, err := server.ExportBansYAML(cmd.Context(), st)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	bans.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Load bans from a YAML file produced by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := server.LoadBansFromYAML(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d ban(s)\n", n)
			return nil
		},
	})
	return bans
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
