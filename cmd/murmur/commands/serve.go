package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/layer-3/murmur"
	"github.com/layer-3/murmur/adapters/chain"
	"github.com/layer-3/murmur/adapters/events"
	"github.com/layer-3/murmur/adapters/keyservice"
	"github.com/layer-3/murmur/adapters/network"
	"github.com/layer-3/murmur/adapters/storage"
	"github.com/layer-3/murmur/adapters/store"
	"github.com/layer-3/murmur/adapters/tokenizer"
	"github.com/layer-3/murmur/config"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/internal/logging"
	"github.com/layer-3/murmur/ports"
	transport "github.com/layer-3/murmur/transport/http"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the configured wallet and serve the messaging API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach Redis: %w", err)
		}
	}

	keys, err := keyStore(redisClient)
	if err != nil {
		return err
	}
	eventPub, err := eventPublisher(redisClient)
	if err != nil {
		return err
	}
	content, err := contentStore(ctx)
	if err != nil {
		return err
	}
	balances, err := balanceReader()
	if err != nil {
		return err
	}

	authorizer := tokenizer.NewJWTAuthorizer(cfg.TokenTTL)
	encryption, err := keyservice.NewRandom(authorizer, balances, log)
	if err != nil {
		return err
	}

	relay := network.NewInMemoryRelay(logging.NewWatermillAdapter(log))
	defer relay.Close()

	messenger, err := murmur.New(murmur.Options{
		KeyStore:      keys,
		Network:       relay,
		Authorizer:    authorizer,
		Encryption:    encryption,
		Content:       content,
		Events:        eventPub,
		HistoryWindow: core.Window{Limit: cfg.HistoryLimit},
		Logger:        log,
	})
	if err != nil {
		return err
	}

	signer, err := walletSigner()
	if errors.Is(err, errNoWallet) {
		signer, err = eth.GenerateLocalSigner()
		if err == nil {
			address, _ := signer.Address(ctx)
			log.WithField("address", address).Warn("no wallet key configured, using an ephemeral wallet")
		}
	}
	if err != nil {
		return err
	}

	if err := messenger.Connect(ctx, signer); err != nil {
		return err
	}
	defer messenger.Disconnect(context.Background())
	if err := messenger.WaitReady(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.SetupRouter(messenger, authorizer, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"address": messenger.Status().Address,
		}).Info("serving messaging API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func keyStore(client *redis.Client) (ports.KeyStore, error) {
	switch cfg.KeyStore {
	case config.BackendRedis:
		return store.NewRedisStore(client), nil
	case config.BackendFile:
		return store.NewFileStore(cfg.KeyDir, cfg.KeyPassphrase), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func eventPublisher(client *redis.Client) (ports.EventPublisher, error) {
	if cfg.Events != config.BackendRedis {
		return events.Nop{}, nil
	}
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logging.NewWatermillAdapter(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	return events.NewWatermillPublisher(publisher), nil
}

func contentStore(ctx context.Context) (ports.ContentStore, error) {
	if cfg.Storage != config.BackendS3 {
		return storage.NewMemoryStore(), nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client, cfg.S3Bucket), nil
}

func balanceReader() (ports.BalanceReader, error) {
	if len(cfg.ChainRPC) == 0 {
		log.Warn("no chain RPC configured, every balance reads as zero")
		return chain.NewStaticBalanceReader(), nil
	}
	return chain.NewEthBalanceReader(cfg.ChainRPC)
}
