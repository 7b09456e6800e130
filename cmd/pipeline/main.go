package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/teamred/datapipeline/internal/aggregation"
	"github.com/teamred/datapipeline/internal/config"
	"github.com/teamred/datapipeline/internal/connector"
	"github.com/teamred/datapipeline/internal/core/storage/postgres"
	"github.com/teamred/datapipeline/internal/metrics"
	"github.com/teamred/datapipeline/internal/migrations"
	"github.com/teamred/datapipeline/internal/model"
	"github.com/teamred/datapipeline/internal/query"
	"github.com/teamred/datapipeline/internal/recorder"
	"github.com/teamred/datapipeline/internal/server"
	"github.com/teamred/datapipeline/internal/stream"
)

func main() {
	configPath := flag.String("config", "pipeline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"window_size", cfg.Window.Size,
		"bus_partitions", cfg.Bus.Partitions,
		"watch_directory", cfg.Connectors.WatchDirectory,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Metrics + Sinks
	m := metrics.New()

	retryPolicy := postgres.RetryPolicy{
		MaxAttempts: cfg.Sink.RetryMaxAttempts,
		Backoff:     cfg.Sink.RetryBackoff(),
	}
	salesSink := postgres.NewSalesSink(dbAdapter.DB(), retryPolicy)
	lineageStore := postgres.NewLineageStore(dbAdapter.DB(), retryPolicy)

	// 4. Stream bus + source connectors
	bus := stream.NewBus(cfg.Bus.Partitions)
	pollTimeout := cfg.Bus.PollTimeout()

	dbProducer, err := connector.NewProducer(bus, stream.TopicRawDB, model.SourceDB, "DBSource", cfg.Connectors.DedupSize, m)
	if err != nil {
		slog.Error("Failed to initialize producer", "topic", stream.TopicRawDB, "error", err)
		os.Exit(1)
	}
	fileProducer, err := connector.NewProducer(bus, stream.TopicRawFile, model.SourceFile, "FileSource", cfg.Connectors.DedupSize, m)
	if err != nil {
		slog.Error("Failed to initialize producer", "topic", stream.TopicRawFile, "error", err)
		os.Exit(1)
	}
	soapProducer, err := connector.NewProducer(bus, stream.TopicRawSOAP, model.SourceSOAP, "SOAPSource", cfg.Connectors.DedupSize, m)
	if err != nil {
		slog.Error("Failed to initialize producer", "topic", stream.TopicRawSOAP, "error", err)
		os.Exit(1)
	}

	dbSource := connector.NewDBSource(dbProducer, cfg.Connectors.SourceDSN, cfg.Connectors.ListenChannel)
	fileSource := connector.NewFileSource(fileProducer, cfg.Connectors.WatchDirectory, cfg.Connectors.ArchiveDirectory)
	soapSource := connector.NewSOAPSource(soapProducer, cfg.Connectors.SoapEndpointURL, cfg.Connectors.PollInterval())

	// 5. Stream processors: router, window topologies, lineage recorder
	router := stream.NewRouter(bus, m, pollTimeout)
	cityTopology := aggregation.NewCityTopology(bus, salesSink, m, cfg.Window, pollTimeout)
	salesmanTopology := aggregation.NewSalesmanTopology(bus, salesSink, m, cfg.Window, pollTimeout)
	lineageRecorder := recorder.New(bus, lineageStore, m, pollTimeout)

	// 6. Query API + server
	querySvc := query.NewService(salesSink, lineageStore)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, m)
	querySvc.RegisterRoutes(srv.Engine)

	// 7. Start everything. Each stage gets its own context so shutdown can
	// run upstream-first: connectors stop producing, the router drains the
	// raw topics, then the topologies and recorder drain the keyed topics.
	// A stage is never cancelled while a stage before it can still append
	// records for it.
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	sourceCtx, stopSources := context.WithCancel(context.Background())
	routerCtx, stopRouter := context.WithCancel(context.Background())
	procCtx, stopProcessors := context.WithCancel(context.Background())

	start := func(ctx context.Context, wg *sync.WaitGroup, name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				slog.Error("Component stopped with error", "component", name, "error", err)
			}
		}()
	}

	var sourceWG, routerWG, procWG sync.WaitGroup
	start(sourceCtx, &sourceWG, "db-source", dbSource.Run)
	start(sourceCtx, &sourceWG, "file-source", fileSource.Run)
	start(sourceCtx, &sourceWG, "soap-source", soapSource.Run)
	start(routerCtx, &routerWG, "key-router", router.Run)
	start(procCtx, &procWG, "city-topology", cityTopology.Run)
	start(procCtx, &procWG, "salesman-topology", salesmanTopology.Run)
	start(procCtx, &procWG, "lineage-recorder", lineageRecorder.Run)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		stopServer()
	}()

	// HTTP server blocks until the signal handler stops it. If it fails on
	// startup the error falls through to the same drain sequence, so the
	// process still exits instead of waiting on workers that were never
	// cancelled.
	if err := srv.Run(serverCtx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	stopSources()
	sourceWG.Wait()
	stopRouter()
	routerWG.Wait()
	stopProcessors()
	procWG.Wait()
	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
