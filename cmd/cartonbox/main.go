package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/utils"
	"github.com/openvault/cartonbox/internal/vault"
	"github.com/openvault/cartonbox/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, "Cartonbox")
	configFileName = "config"
)

var (
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "cartonbox",
	Short:   "Catalog, verify and package files under a managed vault",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("root", "r", defaultDataDir, "vault root directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file")
	rootCmd.PersistentFlags().String("log-file", "", "mirror logs to this file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newStatusCmd(),
		newDaemonCmd(),
		newExportCmd(),
		newImportCmd(),
		newMigrateCmd(),
	)
}

func loadConfig(cmd *cobra.Command) error {
	if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Changed {
		viper.SetConfigFile(flag.Value.String())
	} else {
		viper.AddConfigPath(filepath.Join(home, ".cartonbox"))
		viper.AddConfigPath(filepath.Join(home, ".config/cartonbox"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("root", cmd.Flags().Lookup("root"))
	viper.BindPFlag("log_file", cmd.Flags().Lookup("log-file"))
	viper.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	viper.SetDefault("debounce_window", "250ms")
	viper.SetDefault("scan_batch_size", 200)
	viper.SetDefault("scan_interval", "1h")
	viper.SetDefault("scan_parallel", false)
	viper.SetDefault("scan_workers", 4)
	viper.SetDefault("export_safety_margin", 1.1)
	viper.SetDefault("import_strategy", "update-if-newer")

	viper.SetEnvPrefix("CARTONBOX")
	viper.AutomaticEnv()

	setupLogging()
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:   level,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		}),
	}

	if logFile := viper.GetString("log_file"); logFile != "" {
		if err := utils.EnsureParent(logFile); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
			}
		}
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

// openVault opens the configured root and its catalog store. Callers own
// closing the store.
func openVault() (*vault.Root, *catalog.SQLiteStore, *catalog.Roots, error) {
	root, err := vault.OpenRoot(viper.GetString("root"))
	if err != nil {
		return nil, nil, nil, err
	}
	store := catalog.NewSQLiteStore(root.CatalogPath)
	if err := store.Open(); err != nil {
		return nil, nil, nil, err
	}
	roots := catalog.NewRoots(store, vault.ValidateRoot)
	return root, store, roots, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
