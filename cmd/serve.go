package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	grpcrouter "github.com/dtroode/moodist-server/internal/api/grpc/router"
	grpcserver "github.com/dtroode/moodist-server/internal/api/grpc/server"
	"github.com/dtroode/moodist-server/internal/api/http/handler"
	httprouter "github.com/dtroode/moodist-server/internal/api/http/router"
	httpserver "github.com/dtroode/moodist-server/internal/api/http/server"
	"github.com/dtroode/moodist-server/internal/config"
	"github.com/dtroode/moodist-server/internal/identifier"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/mail"
	"github.com/dtroode/moodist-server/internal/metrics"
	"github.com/dtroode/moodist-server/internal/model"
	"github.com/dtroode/moodist-server/internal/password"
	"github.com/dtroode/moodist-server/internal/repository/memory"
	"github.com/dtroode/moodist-server/internal/repository/postgres"
	"github.com/dtroode/moodist-server/internal/server"
	"github.com/dtroode/moodist-server/internal/service"
	storage "github.com/dtroode/moodist-server/internal/storage/minio"
	"github.com/dtroode/moodist-server/internal/token"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the gRPC health endpoint",
		RunE:  runServe,
	}
}

type stores struct {
	users       model.UserDirectory
	connections model.ConnectionStore
	close       func()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, cmd.OutOrStdout())
	log.Info("starting moodist-server", "version", buildVersion, "date", buildDate, "commit", buildCommit)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	mailer, err := newMailer(ctx, cfg, log)
	if err != nil {
		return err
	}

	hasher, err := password.NewHasher(cfg.Security.Pepper, password.Params{
		Time:    cfg.KDF.Time,
		Memory:  cfg.KDF.MemKiB,
		Threads: cfg.KDF.Threads,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	m := metrics.New()
	connections := service.NewConnections(st.users, st.connections, m, log)
	auth := service.NewAuth(
		st.users,
		token.NewCodec(cfg.Security.SecretKey, cfg.Security.PasswordSalt),
		token.NewSessions(cfg.Security.SecretKey, cfg.Tokens.Session),
		hasher,
		identifier.NewGenerator(),
		mailer,
		nil,
		m,
		log,
		service.AuthConfig{
			VerificationTTL: cfg.Tokens.Verification,
			ResetTTL:        cfg.Tokens.ResetTTL(),
			PublicURL:       cfg.PublicURL,
		},
	)

	engine := httprouter.New(httprouter.Services{Auth: auth, Connections: connections}, m, log, httprouter.Options{
		AllowOrigins: cfg.CORS.AllowOrigins,
		Cookie:       handler.CookieConfig{Secure: cfg.HTTP.CookieSecure},
		Version:      buildVersion,
	}).Register()

	sl := server.NewSecurityLayer(cfg.HTTP.EnableHTTPS, cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)
	servers := []model.Server{httpserver.NewHTTPServer(engine, ":"+cfg.HTTP.Port)}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	if cfg.GRPC.Port != "" {
		r := grpcrouter.New(auth, log)
		r.Probe(ctx)
		go r.Monitor(monitorCtx, healthInterval)
		servers = append(servers, grpcserver.NewGRPCServer(r.Register(), ":"+cfg.GRPC.Port))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(servers))
	for _, s := range servers {
		wg.Add(1)
		go func(s model.Server) {
			defer wg.Done()
			log.Info("Starting server on", "address", s.Address())
			if err := s.Start(sl); err != nil {
				log.Error("failed to start server", "error", err, "address", s.Address())
				errs <- err
			}
		}(s)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received interruption signal, shutting down")
	case runErr = <-errs:
	}
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Stop(shutdownCtx); err != nil {
			log.Error("error during server shutdown", "error", err, "address", s.Address())
		}
	}

	wg.Wait()
	log.Info("shutdown complete")
	return runErr
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.Database.Driver == "memory" {
		s := memory.New()
		return stores{users: s, connections: s.Connections(), close: func() {}}, nil
	}

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return stores{
		users:       postgres.NewUserRepository(db),
		connections: postgres.NewConnectionRepository(db),
		close:       func() { _ = db.Close() },
	}, nil
}

func newMailer(ctx context.Context, cfg *config.Config, log *logger.Logger) (model.Mailer, error) {
	if cfg.Mail.Driver != "outbox" {
		return mail.NewLogMailer(log), nil
	}

	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	objects, err := storage.NewClient(ctx, client, cfg.Storage.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage client: %w", err)
	}
	return mail.NewOutboxMailer(objects, cfg.Mail.Prefix, log), nil
}
