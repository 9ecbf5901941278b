package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/layer-3/murmur/config"
	"github.com/layer-3/murmur/internal/logging"
)

var (
	cfg *config.Config
	log *logrus.Logger
)

// Execute runs the murmur CLI.
func Execute() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return err
	}

	root := &cobra.Command{
		Use:           "murmur",
		Short:         "Wallet-authenticated messaging with token-gated content",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log = logging.New(cfg.LogLevel, cfg.LogFormat)
			return cfg.Validate()
		},
	}
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(serveCmd(), addressCmd(), tokenCmd())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if log == nil {
			log = logging.New(cfg.LogLevel, cfg.LogFormat)
		}
		log.WithError(err).Error("murmur failed")
		return err
	}
	return nil
}
