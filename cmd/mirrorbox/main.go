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
	"github.com/mirrorbox/mirrorbox/internal/config"
	"github.com/mirrorbox/mirrorbox/internal/drive"
	"github.com/mirrorbox/mirrorbox/internal/sync"
	"github.com/mirrorbox/mirrorbox/internal/utils"
	"github.com/mirrorbox/mirrorbox/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var cyan = color.New(color.FgHiCyan, color.Bold).SprintFunc()

var rootCmd = &cobra.Command{
	Use:     "mirrorbox",
	Short:   "MirrorBox keeps local directories and remote drive folders in sync",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		// config is good, errors past this point are runtime errors
		cmd.SilenceUsage = true
		showHeader()

		client, err := drive.NewHTTPClient(cfg.ServerURL)
		if err != nil {
			return err
		}

		orch := sync.NewOrchestrator(cfg, client)
		if err := orch.Start(cmd.Context()); err != nil {
			// Start cleans up after itself on failure
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		<-cmd.Context().Done()

		defer slog.Info("Bye!")
		return orch.Stop()
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("server", "s", "", "MirrorBox drive server URL")
	rootCmd.Flags().String("ledger", config.DefaultLedgerPath, "Sync ledger database path")
	rootCmd.Flags().IntP("workers", "w", config.DefaultWorkers, "Parallel reconciliation workers")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "MirrorBox config file")
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	fileWriter := &lumberjack.Logger{
		Filename:   config.DefaultLogPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}
	fileHandler := slog.NewTextHandler(fileWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Dir(config.DefaultConfigPath))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	// subcommands do not carry the daemon flags
	if flag := cmd.Flags().Lookup("server"); flag != nil {
		viper.BindPFlag("server_url", flag)
	}
	if flag := cmd.Flags().Lookup("ledger"); flag != nil {
		viper.BindPFlag("ledger_path", flag)
	}
	if flag := cmd.Flags().Lookup("workers"); flag != nil {
		viper.BindPFlag("workers", flag)
	}

	viper.SetEnvPrefix("MIRRORBOX")
	viper.AutomaticEnv()

	return nil
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		Path:           viper.ConfigFileUsed(),
		ServerURL:      viper.GetString("server_url"),
		LedgerPath:     viper.GetString("ledger_path"),
		ResyncInterval: viper.GetString("resync_interval"),
		Workers:        viper.GetInt("workers"),
	}
	if err := viper.UnmarshalKey("pairs", &cfg.Pairs); err != nil {
		return nil, fmt.Errorf("config: invalid pairs: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func showHeader() {
	fmt.Printf("%s %s\n", cyan(version.AppName), version.Short())
}
