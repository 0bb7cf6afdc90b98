// Command coordinatord runs a single stream-coordinator process: the
// deterministic dispatcher behind a raftrt.MemoryDriver, its aux executor,
// notification sinks and the HTTP/WebSocket API surface described by
// SPEC_FULL.md. A clustered deployment replaces the in-process
// MemoryDriver with a real Raft runtime satisfying pkg/raftrt; everything
// above the driver is unchanged.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"

	"github.com/streamio/streamcoordinator/pkg/api"
	"github.com/streamio/streamcoordinator/pkg/config"
	"github.com/streamio/streamcoordinator/pkg/coordinator"
	"github.com/streamio/streamcoordinator/pkg/coordinator/catalog"
	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/logproc"
	"github.com/streamio/streamcoordinator/pkg/mesh"
	"github.com/streamio/streamcoordinator/pkg/observability"
	"github.com/streamio/streamcoordinator/pkg/observability/prometheus"
	"github.com/streamio/streamcoordinator/pkg/raftrt"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file (overrides defaults/env)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		if err := config.LoadWithEnv(*configPath, "COORD", &cfg); err != nil {
			log.Fatalf("coordinatord: load config: %v", err)
		}
	} else {
		_ = config.ApplyEnvOverrides("COORD", &cfg)
	}

	logger := core.NewDefaultLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "stream-coordinator",
	})
	if err != nil {
		log.Fatalf("coordinatord: init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	metrics := prometheus.NewMetrics(prometheus.DefaultRegisterer)

	var catalogWriter coordinator.CatalogWriter
	if cfg.PostgresDSN != "" {
		var auditLog *catalog.AuditLog
		if cfg.AuditPostgresDSN != "" {
			auditLog, err = catalog.NewAuditLog(cfg.AuditPostgresDSN)
			if err != nil {
				log.Fatalf("coordinatord: open audit log: %v", err)
			}
			if err := auditLog.EnsureSchema(ctx); err != nil {
				log.Fatalf("coordinatord: audit schema: %v", err)
			}
			defer auditLog.Close()
		}

		pgPool, err := dialPgxPool(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("coordinatord: dial catalog pool: %v", err)
		}
		store := catalog.NewStore(pgPool, auditLog)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("coordinatord: catalog schema: %v", err)
		}
		catalogWriter = store
	} else {
		logger.Warnf("coordinatord: no postgres_dsn configured, catalog writes are discarded")
		catalogWriter = noopCatalogWriter{}
	}

	var natsConn *nats.Conn
	var notificationSink coordinator.NotificationSink
	channelSink := coordinator.NewChannelSink(1024)
	if cfg.NatsURL != "" {
		natsConn, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatalf("coordinatord: connect nats: %v", err)
		}
		defer natsConn.Close()
		notificationSink = coordinator.NewNatsSink(natsConn, cfg.NatsPrefix)
	} else {
		notificationSink = channelSink
	}

	wsHub := api.NewNotificationHub(logger)
	fanout := fanoutSink{sinks: []coordinator.NotificationSink{notificationSink, wsHub}}

	var dirFor func(streamID coordinator.StreamId, node coordinator.Node) string
	if cfg.LogDataDir != "" {
		dirFor = func(streamID coordinator.StreamId, node coordinator.Node) string {
			return fmt.Sprintf("%s/%s/%s", cfg.LogDataDir, node, streamID)
		}
	}
	logManager := logproc.NewManager(dirFor)

	state := coordinator.NewState()
	var snapStore *coordinator.SnapshotStore
	if cfg.SnapshotSqlitePath != "" {
		snapStore, err = coordinator.NewSnapshotStore(cfg.SnapshotSqlitePath)
		if err != nil {
			log.Fatalf("coordinatord: open snapshot store: %v", err)
		}
		if _, restored, serr := snapStore.Latest(ctx); serr == nil && restored != nil {
			state = restored
		}
	}

	var driver *raftrt.MemoryDriver
	injector := commandInjector{driver: func() *raftrt.MemoryDriver { return driver }}

	auxExecutor := coordinator.NewAuxExecutor(ctx, logManager, catalogWriter, injector, coordinator.AuxExecutorConfig{
		Logger: logger,
	})

	dispatcher := coordinator.NewDispatcher(state, auxExecutor, coordinator.NewNoopSacMachine(), logger)
	driver = raftrt.NewMemoryDriver(dispatcher, coordinator.CurrentMachineVersion)
	driver.SetQueryFunc(func(mode raftrt.ReadMode, query interface{}) (interface{}, error) {
		val, qerr := dispatcher.Query(query)
		if qerr != nil {
			return nil, qerr
		}
		return val, nil
	})

	go drainEffects(ctx, driver, fanout, metrics, logger)

	// This node becomes the replicated machine's leader as soon as it
	// starts: a single-node MemoryDriver has no peer to lose leadership to.
	leaderEffects := driver.BecomeLeader(time.Now().Unix())
	for _, eff := range leaderEffects {
		routeEffect(eff, fanout, metrics, logger)
	}

	// serviceMesh is built regardless of clustering config: add_replica's
	// freshness gate (checkFreshness) dials through it even in a
	// single-node deployment, where every logical node it can reach lives
	// in this same process (see meshRPC).
	serviceMesh := mesh.New(meshRPC(ctx, logManager))

	if cfg.ResizeIntervalSeconds > 0 && len(cfg.ClusterServers) > 0 {
		roster := coordinator.NewMemoryRoster(nodesFrom(cfg.ClusterServers))
		resizer := coordinator.NewResizer(roster, serviceMesh, nodesFrom(cfg.ClusterServers), logger)
		go runResizeLoop(ctx, resizer, time.Duration(cfg.ResizeIntervalSeconds)*time.Second)
	}

	if snapStore != nil {
		go runSnapshotPersistence(ctx, driver, dispatcher, snapStore, logger)
	}

	var auth *api.Authenticator
	if cfg.JWTSigningKey != "" {
		auth = api.NewAuthenticator([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.JWTTTL)
	}
	submitter := driverSubmitter{driver: driver}
	apiServer := api.NewServer(submitter, dispatcher, auth, logger, cfg.FreshnessGate, serviceMesh)

	httpSrv := &fasthttp.Server{Handler: apiServer.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Errorf("coordinatord: api server stopped: %v", err)
		}
	}()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/v1/notifications", wsHub.ServeWS)
	wsSrv := &http.Server{Addr: addWSPort(cfg.HTTPAddr), Handler: wsMux}
	go func() {
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("coordinatord: ws server stopped: %v", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultRegistry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("coordinatord: metrics server stopped: %v", err)
			}
		}()
	}

	logger.Infof("coordinatord: node %s listening on %s", cfg.Node, cfg.HTTPAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Infof("coordinatord: shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.ShutdownWithContext(shutdownCtx)
	_ = wsSrv.Shutdown(shutdownCtx)
}
