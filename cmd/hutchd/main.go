package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hutchvm/hutch/internal/catalog"
	"github.com/hutchvm/hutch/internal/config"
	"github.com/hutchvm/hutch/internal/download"
	"github.com/hutchvm/hutch/internal/logging"
	"github.com/hutchvm/hutch/internal/models"
	"github.com/hutchvm/hutch/internal/vault"
)

func main() {
	slog.SetDefault(logging.New(logging.FormatText, os.Stderr, slog.LevelInfo))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string
	configPath := config.DefaultPath

	root := &cobra.Command{
		Use:           "hutchd",
		Short:         "Local VM image vault for 'hutch' instances",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the daemon configuration file")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		daemonConfig, err := config.Load(configPath)
		if err != nil {
			return err
		}

		levelName := daemonConfig.LogLevel
		if logLevel != "" {
			levelName = logLevel
		}
		level, err := logging.ParseLevel(levelName)
		if err != nil {
			return err
		}

		slog.SetDefault(logging.New(logging.Format(daemonConfig.LogFormat), os.Stderr, level))
		return nil
	}

	root.AddCommand(
		newFetchCommand(&configPath),
		newRemoveCommand(&configPath),
	)
	return root
}

func newFetchCommand(configPath *string) *cobra.Command {
	var (
		release    string
		withKernel bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <instance-name>",
		Args:  cobra.ExactArgs(1),
		Short: "Fetch and cache the image for a new instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("instance name is required")
			}

			logger := slog.Default().With("command", "fetch", "instance", name)

			imageVault, err := openVault(*configPath, logger)
			if err != nil {
				return err
			}

			fetchType := models.FetchImageOnly
			if withKernel {
				fetchType = models.FetchImageKernelAndInitrd
			}

			query := models.Query{Name: name, Release: release, Persistent: true}
			identity := func(source models.VMImage) (models.VMImage, error) {
				return source, nil
			}
			monitor := func(fraction float64) {
				logger.Info("downloading", "percent", int(fraction*100))
			}

			image, err := imageVault.FetchImage(cmd.Context(), fetchType, query, identity, monitor)
			if err != nil {
				logger.Error("fetch failed", "error", err)
				return err
			}

			logger.Info("fetch completed", "id", image.ID, "path", image.ImagePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&release, "release", "", "Release to fetch, optionally prefixed with a remote name")
	cmd.Flags().BoolVar(&withKernel, "with-kernel", false, "Also fetch the kernel and initrd artifacts")

	return cmd
}

func newRemoveCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <instance-name>",
		Args:  cobra.ExactArgs(1),
		Short: "Remove an instance's cached image copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("instance name is required")
			}

			logger := slog.Default().With("command", "remove", "instance", name)

			imageVault, err := openVault(*configPath, logger)
			if err != nil {
				return err
			}

			if err := imageVault.Remove(name); err != nil {
				logger.Error("remove failed", "error", err)
				return err
			}

			logger.Info("remove completed")
			return nil
		},
	}
	return cmd
}

func openVault(configPath string, logger *slog.Logger) (*vault.Vault, error) {
	daemonConfig, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	host := catalog.NewRemoteHost(
		daemonConfig.Remotes,
		daemonConfig.DefaultRemote,
		time.Duration(daemonConfig.CatalogTTL),
		logger.With("component", "catalog"),
	)
	downloader := download.NewHTTPDownloader(logger.With("component", "download"))

	return vault.New(host, downloader, daemonConfig.CacheDir, logger.With("component", "vault"))
}
