package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/minutron/minutron/internal/async"
	"github.com/minutron/minutron/internal/bot"
	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/danfe"
	"github.com/minutron/minutron/internal/extract"
	"github.com/minutron/minutron/internal/rat"
	"github.com/minutron/minutron/internal/render"
	"github.com/minutron/minutron/internal/repository"
	"github.com/minutron/minutron/internal/session"
	"github.com/minutron/minutron/internal/telegram"
)

func main() {
	// .env is optional; real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("minutrond stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("minutrond stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	// Status cache: memory in front, SQL behind when configured
	var statusCache rat.Cache = rat.NewMemoryCache()
	if cfg.Storage.StatusCacheDSN != "" {
		db, err := repository.Open(ctx, repository.Config{
			DSN:             cfg.Storage.StatusCacheDSN,
			MaxConns:        4,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     10 * time.Second,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close(logger)
		if err := db.HealthCheck(ctx, 3*time.Second); err != nil {
			return err
		}
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		statusCache = rat.NewLayeredCache(statusCache, repository.NewSQLStatusCache(db, logger))
	}

	var parseCache danfe.ParseCache
	if cfg.Storage.ParseCacheEnabled {
		pc, err := repository.NewParseCache(cfg.Storage.ParseCacheDir, logger)
		if err != nil {
			return err
		}
		parseCache = pc
	}

	extractor := extract.NewExtractor(extract.Config{
		Pdftotext: cfg.Extract.Pdftotext,
		TableCmd:  cfg.Extract.TableCmd,
	}, logger)
	adapter := danfe.NewAdapter(extractor, danfe.NewDetector(cfg.Extract.IssuerMatch), parseCache, logger)

	lookup := rat.NewBrowserLookup(rat.BrowserConfig{
		URL:         cfg.RAT.URL,
		Headless:    cfg.RAT.Headless,
		Bin:         cfg.RAT.BrowserBin,
		StepTimeout: cfg.RAT.StepTimeout,
	}, logger)
	defer func() {
		if err := lookup.Close(); err != nil {
			logger.Warn("failed to close browser", "error", err)
		}
	}()
	resolver := rat.NewResolver(lookup, statusCache, logger,
		rat.WithConcurrency(cfg.RAT.Concurrency),
		rat.WithGrace(cfg.RAT.Grace),
	)

	renderer := render.NewMinutaRenderer(cfg.Render.TemplatePath, cfg.Render.Soffice, logger,
		render.WithAttachments(cfg.Render.MergeDANFEs),
	)

	users := repository.NewUserRepository(cfg.Storage.DataDir, logger)
	carriers := repository.NewCarrierDirectory(cfg.Storage.DataDir, logger)
	workspace := repository.NewWorkspace(cfg.Storage.DataDir)

	dispatcher := async.NewDispatcher(logger, async.WithWorkers(cfg.Bot.DispatchWorkers))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		dispatcher.Shutdown(shutdownCtx)
	}()

	engine := session.NewEngine(session.NewStore(), session.Deps{
		Parser:    adapter,
		Resolver:  resolver,
		Renderer:  renderer,
		Users:     users,
		Carriers:  carriers,
		Files:     workspace,
		Decisions: session.NewLogDecisions(logger),
	}, logger,
		session.WithLookupTimeout(cfg.RAT.Timeout),
		session.WithRenderTimeout(cfg.Render.Timeout),
		session.WithBackground(dispatcher),
		session.WithLabelCopies(cfg.Render.LabelCopiesPerItem),
		session.WithPrivileged(cfg.IsPrivileged),
	)

	// long polls need a client timeout above the poll timeout
	httpClient := &http.Client{Timeout: cfg.Bot.PollTimeout + 30*time.Second}
	client, err := telegram.NewClient(cfg.Bot.APIBaseURL, cfg.Bot.Token, httpClient, logger)
	if err != nil {
		return err
	}
	me := client.Self()
	logger.Info("bot identity", "username", me.UserName, "id", me.ID)

	router := bot.NewRouter(client, engine, users, workspace, dispatcher, cfg.Bot.AdminID, logger)

	if cfg.Server.HealthAddr != "" {
		grpcServer, err := serveHealth(cfg.Server.HealthAddr, logger)
		if err != nil {
			return err
		}
		defer grpcServer.GracefulStop()
	}

	return telegram.NewPoller(client, cfg.Bot.PollTimeout, logger).Run(ctx, router.Handle)
}

func serveHealth(addr string, logger *slog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	go func() {
		logger.Info("gRPC health serving", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", "error", err)
		}
	}()
	return grpcServer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
