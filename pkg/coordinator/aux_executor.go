package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/core/concurrency"
	"github.com/streamio/streamcoordinator/pkg/core/failfast"
)

// LocalExecutor performs the local-process side of an aux action: starting
// or stopping the log process for one stream on one node. pkg/logproc
// implements this against the append-only store; a clustered deployment's
// implementation dials the target node through pkg/mesh when it isn't the
// local node.
type LocalExecutor interface {
	StartWriter(ctx context.Context, node Node, streamID StreamId, conf Conf) (Pid, error)
	StartReplica(ctx context.Context, node Node, streamID StreamId, conf Conf, leaderPid Pid) (Pid, error)
	Stop(ctx context.Context, node Node, streamID StreamId) (Tail, error)
	Delete(ctx context.Context, node Node, streamID StreamId) error
	UpdateRetention(ctx context.Context, node Node, streamID StreamId, conf Conf) error

	// ReadTail reads a still-running process's current tail without
	// stopping it, for add_replica's freshness gate (spec §7). Returns
	// ErrNodeDown-shaped errors the same way the lifecycle calls above do
	// when there's no process to read.
	ReadTail(ctx context.Context, node Node, streamID StreamId) (LiveTail, error)
}

// CatalogWriter performs the update_catalog aux action against the
// external durable queue catalog.
type CatalogWriter interface {
	UpdateCatalog(ctx context.Context, streamID StreamId, epoch Epoch, conf Conf) error
}

// CommandInjector re-enters a terminal aux outcome into the replicated
// command log, matching spec §4.6's "each terminal outcome must inject a
// command back into the replicated log."
type CommandInjector interface {
	Inject(kind CommandKind, payload interface{})
}

// ErrNodeDown is returned by a LocalExecutor/CatalogWriter call to signal a
// transient failure that should be throttled before reporting
// action_failed, per spec §4.6's "graceful throttling on transient
// errors."
var ErrNodeDown = errors.New("coordinator: node down")

// AuxExecutorConfig configures an AuxExecutor.
type AuxExecutorConfig struct {
	WorkersPerNode int
	Backoff        time.Duration
	Logger         core.Logger
}

// DefaultAuxExecutorConfig matches the "single-threaded, best-effort
// side-channel" contract with one worker per node.
func DefaultAuxExecutorConfig() AuxExecutorConfig {
	return AuxExecutorConfig{WorkersPerNode: 1, Backoff: 2 * time.Second}
}

// AuxExecutor is the concrete, out-of-band implementation of the Aux
// interface (spec §4.6). It runs one single-worker concurrency.WorkerPool
// per node, guaranteeing at most one action executes at a time per node,
// and re-injects the terminal outcome of every action as a command.
type AuxExecutor struct {
	cfg      AuxExecutorConfig
	logproc  LocalExecutor
	catalog  CatalogWriter
	injector CommandInjector

	pools map[Node]concurrency.WorkerPool
	ctx   context.Context
}

// NewAuxExecutor builds an AuxExecutor. ctx bounds the lifetime of every
// per-node worker pool.
func NewAuxExecutor(ctx context.Context, logproc LocalExecutor, catalog CatalogWriter, injector CommandInjector, cfg AuxExecutorConfig) *AuxExecutor {
	failfast.NotNil(ctx, "ctx")
	failfast.NotNil(logproc, "logproc")
	failfast.NotNil(catalog, "catalog")
	failfast.NotNil(injector, "injector")
	if cfg.WorkersPerNode < 1 {
		cfg.WorkersPerNode = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewDefaultLogger()
	}
	return &AuxExecutor{
		cfg: cfg, logproc: logproc, catalog: catalog, injector: injector,
		pools: make(map[Node]concurrency.WorkerPool), ctx: ctx,
	}
}

func (e *AuxExecutor) poolFor(node Node) concurrency.WorkerPool {
	if p, ok := e.pools[node]; ok {
		return p
	}
	p := concurrency.NewWorkerPool(e.ctx, concurrency.WorkerPoolConfig{Workers: e.cfg.WorkersPerNode, QueueSize: 256})
	_ = p.Start()
	e.pools[node] = p
	return p
}

// Submit implements Aux. It queues the action onto the target node's
// worker pool and returns immediately; the terminal outcome is injected
// asynchronously.
func (e *AuxExecutor) Submit(action Action) error {
	pool := e.poolFor(action.Meta.Node)
	return pool.Submit(concurrency.TaskFunc(func(ctx context.Context) error {
		e.run(ctx, action)
		return nil
	}))
}

func (e *AuxExecutor) run(ctx context.Context, action Action) {
	var err error
	switch action.Kind {
	case ActionStartWriter:
		var pid Pid
		pid, err = e.logproc.StartWriter(ctx, action.Meta.Node, action.StreamId, action.Conf)
		if err == nil {
			e.injector.Inject(CmdMemberStarted, MemberStartedPayload{
				StreamId: action.StreamId, Node: action.Meta.Node, Epoch: action.Meta.Epoch, Index: action.Meta.Index, Pid: pid,
			})
			return
		}
	case ActionStartReplica:
		var pid Pid
		pid, err = e.logproc.StartReplica(ctx, action.Meta.Node, action.StreamId, action.Conf, action.LeaderPid)
		if err == nil {
			e.injector.Inject(CmdMemberStarted, MemberStartedPayload{
				StreamId: action.StreamId, Node: action.Meta.Node, Epoch: action.Meta.Epoch, Index: action.Meta.Index, Pid: pid,
			})
			return
		}
	case ActionStop:
		var tail Tail
		tail, err = e.logproc.Stop(ctx, action.Meta.Node, action.StreamId)
		if err == nil {
			e.injector.Inject(CmdMemberStopped, MemberStoppedPayload{
				StreamId: action.StreamId, Node: action.Meta.Node, Epoch: action.Meta.Epoch, Index: action.Meta.Index, Tail: tail,
			})
			return
		}
	case ActionDeleteMember:
		err = e.logproc.Delete(ctx, action.Meta.Node, action.StreamId)
		if err == nil {
			e.injector.Inject(CmdMemberDeleted, MemberDeletedPayload{StreamId: action.StreamId, Node: action.Meta.Node})
			return
		}
	case ActionUpdateCatalog:
		err = e.catalog.UpdateCatalog(ctx, action.StreamId, action.Meta.Epoch, action.Conf)
		if err == nil {
			e.injector.Inject(CmdCatalogUpdated, CatalogUpdatedPayload{StreamId: action.StreamId, Epoch: action.Meta.Epoch})
			return
		}
	case ActionUpdateRetention:
		err = e.logproc.UpdateRetention(ctx, action.Meta.Node, action.StreamId, action.Conf)
		if err == nil {
			e.injector.Inject(CmdRetentionUpdated, RetentionUpdatedPayload{StreamId: action.StreamId, Node: action.Meta.Node, NewConf: action.Conf})
			return
		}
	default:
		err = errors.New("coordinator: unknown aux action " + action.Kind)
	}

	if errors.Is(err, ErrNodeDown) {
		e.cfg.Logger.Warnf("aux: transient failure on %s/%s action %s, throttling: %v", action.StreamId, action.Meta.Node, action.Kind, err)
		select {
		case <-time.After(e.cfg.Backoff):
		case <-ctx.Done():
		}
	}
	e.injector.Inject(CmdActionFailed, ActionFailedPayload{
		StreamId: action.StreamId, Node: action.Meta.Node, Index: action.Meta.Index,
		Epoch: action.Meta.Epoch, Action: bookkeepingTag(action.Kind),
	})
}

// FailActiveActions synthesizes action_failed commands for every in-flight
// member action and in-flight catalog update on streams not in exclude,
// matching spec §4.6's leader-change robustness protocol: when the
// replicated machine gains leadership, stranded in-flight actions become
// explicit failures so the Evaluator can reissue them.
func FailActiveActions(state *State, exclude map[StreamId]bool) []ActionFailedPayload {
	var out []ActionFailedPayload
	for id, s := range state.Streams {
		if exclude[id] {
			continue
		}
		for node, m := range s.Members {
			if m.Current.None() {
				continue
			}
			out = append(out, ActionFailedPayload{
				StreamId: id, Node: node, Index: m.Current.Index, Epoch: m.Role.Epoch, Action: m.Current.Tag,
			})
		}
		if s.CatalogState.Kind == CatalogUpdating {
			if w := s.Writer(); w != nil {
				out = append(out, ActionFailedPayload{
					StreamId: id, Node: w.Node, Epoch: s.CatalogState.Epoch, Action: ActionUpdating,
				})
			}
		}
	}
	return out
}
