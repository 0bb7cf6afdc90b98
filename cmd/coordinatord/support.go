package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamio/streamcoordinator/pkg/coordinator"
	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/logproc"
	"github.com/streamio/streamcoordinator/pkg/mesh"
	"github.com/streamio/streamcoordinator/pkg/observability/prometheus"
	"github.com/streamio/streamcoordinator/pkg/raftrt"
)

// driverSubmitter adapts a raftrt.MemoryDriver to api.Submitter for the
// single-process deployment mode, where the node running coordinatord is
// its own (and only) cluster member.
type driverSubmitter struct {
	driver *raftrt.MemoryDriver
}

func (s driverSubmitter) Submit(ctx context.Context, kind coordinator.CommandKind, payload interface{}) (raftrt.Reply, error) {
	reply := s.driver.Submit(time.Now().Unix(), raftrt.Command{Kind: string(kind), Payload: payload})
	return reply, nil
}

// commandInjector implements coordinator.CommandInjector by resubmitting
// terminal aux outcomes through the same driver the original command
// flowed through. driver is a func rather than a direct pointer since the
// driver and the aux executor it feeds are constructed in the same breath
// as each other's dependency.
type commandInjector struct {
	driver func() *raftrt.MemoryDriver
}

func (c commandInjector) Inject(kind coordinator.CommandKind, payload interface{}) {
	d := c.driver()
	if d == nil {
		return
	}
	d.Submit(time.Now().Unix(), raftrt.Command{Kind: string(kind), Payload: payload})
}

// fanoutSink broadcasts a Notification to every configured sink, so the
// same effect reaches both an external bus (NATS) and locally attached
// WebSocket listeners.
type fanoutSink struct {
	sinks []coordinator.NotificationSink
}

func (f fanoutSink) Deliver(n coordinator.Notification) {
	for _, s := range f.sinks {
		s.Deliver(n)
	}
}

// noopCatalogWriter discards update_catalog aux actions. It stands in for
// catalog.Store when no postgres_dsn is configured, which is a valid
// single-node/development posture: the coordinator still runs, but
// nothing durable backs stream_catalog.
type noopCatalogWriter struct{}

func (noopCatalogWriter) UpdateCatalog(ctx context.Context, streamID coordinator.StreamId, epoch coordinator.Epoch, conf coordinator.Conf) error {
	return nil
}

// drainEffects pulls raftrt.Effect values off the driver as they
// accumulate and routes each to the collaborator that owns its kind:
// notifications to sink, release-cursor snapshots to metrics, and monitor
// effects to a log line (the runtime, not the coordinator, owns actually
// watching pids/nodes; the in-process driver has no peer to watch).
func drainEffects(ctx context.Context, driver *raftrt.MemoryDriver, sink coordinator.NotificationSink, metrics *prometheus.Metrics, logger core.Logger) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, eff := range driver.DrainEffects() {
				routeEffect(eff, sink, metrics, logger)
			}
		}
	}
}

// routeEffect dispatches one drained raftrt.Effect to the sink, metrics or
// logger appropriate to its kind. drainEffects calls this on a timer; the
// leader-transition effects produced once at startup by driver.BecomeLeader
// are routed the same way, inline, since they arrive before drainEffects'
// first tick.
func routeEffect(eff raftrt.Effect, sink coordinator.NotificationSink, metrics *prometheus.Metrics, logger core.Logger) {
	switch eff.Kind {
	case raftrt.EffectNotify:
		if n, ok := eff.Payload.(coordinator.Notification); ok {
			sink.Deliver(n)
			metrics.RecordNotification(string(n.Kind))
		}
	case raftrt.EffectAux:
		if a, ok := eff.Payload.(coordinator.Action); ok {
			metrics.RecordAuxAction(a.Kind, "submitted", 0)
		}
	case raftrt.EffectMonitor:
		if me, ok := eff.Payload.(coordinator.MonitorEffect); ok {
			logger.Debugf("coordinatord: monitor effect watchProcess=%v watchNode=%v pid=%s node=%s",
				me.WatchProcess, me.WatchNode, me.Pid, me.Node)
		}
	case raftrt.EffectReleaseCursor:
		metrics.RecordReleaseCursor()
	}
}

// runResizeLoop ticks resizer on interval until ctx is cancelled,
// implementing spec §6.5's periodic roster reconciliation.
func runResizeLoop(ctx context.Context, resizer *coordinator.Resizer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resizer.Tick(ctx)
		}
	}
}

// runSnapshotPersistence encodes the dispatcher's current state every five
// seconds and saves it into the local SnapshotStore at the driver's current
// index, so a restarted node can load the latest one without a full
// replay. It does not wait for release-cursor effects.
func runSnapshotPersistence(ctx context.Context, driver *raftrt.MemoryDriver, dispatcher *coordinator.Dispatcher, store *coordinator.SnapshotStore, logger core.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx := driver.Index()
			if idx == 0 {
				continue
			}
			snap, err := coordinator.EncodeSnapshot(dispatcher.State())
			if err != nil {
				logger.Warnf("coordinatord: encode snapshot: %v", err)
				continue
			}
			if err := store.Save(ctx, uint64(idx), snap); err != nil {
				logger.Warnf("coordinatord: save snapshot: %v", err)
			}
		}
	}
}

// nodesFrom turns a list of "node@host:port" or bare node-name cluster
// server strings into the node identifiers the roster tracks.
func nodesFrom(servers []string) []coordinator.Node {
	nodes := make([]coordinator.Node, 0, len(servers))
	for _, s := range servers {
		name := s
		if idx := strings.IndexByte(s, '@'); idx >= 0 {
			name = s[:idx]
		}
		nodes = append(nodes, coordinator.Node(name))
	}
	return nodes
}

// meshRPC builds the transport pkg/mesh dials through. It answers
// "read_tail" for any node against logManager, since this single process
// hosts every logical node's log process in-process (grounding add_replica's
// freshness gate in a real wire call). add_member/remove_member resize calls
// against peer coordinatord processes have no such shortcut and return an
// error; a real deployment would dial the peer's own API surface for those.
func meshRPC(ctx context.Context, logManager *logproc.Manager) mesh.RPC {
	return func(callCtx context.Context, node string, action string, payload interface{}) (mesh.Response, error) {
		if action == "read_tail" {
			req, ok := payload.(coordinator.ReadTailRequest)
			if !ok {
				return nil, fmt.Errorf("coordinatord: read_tail requires a coordinator.ReadTailRequest payload")
			}
			return logManager.ReadTail(callCtx, req.Node, req.StreamId)
		}
		return nil, fmt.Errorf("coordinatord: no peer-control transport configured for node %s action %s", node, action)
	}
}

// addWSPort shifts an "addr:port" HTTP listen address by one port for the
// plain net/http WebSocket server fasthttp's RequestCtx can't upgrade.
func addWSPort(addr string) string {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return addr + "1"
	}
	host, portStr := addr[:idx], addr[idx+1:]
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	if port == 0 {
		return addr
	}
	return fmt.Sprintf("%s:%d", host, port+1)
}

// dialPgxPool opens the catalog's pgxpool.Pool against dsn.
func dialPgxPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}
