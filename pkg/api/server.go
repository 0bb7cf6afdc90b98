// Package api is the thin request surface in front of the coordinator's
// deterministic core: command submission and read-only queries over HTTP,
// and live listener-notification streaming over WebSocket. The core state
// machine never depends on this package; api only ever talks to it through
// pkg/coordinator's public Dispatcher/Query surface and pkg/raftrt.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/streamio/streamcoordinator/pkg/coordinator"
	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/mesh"
	"github.com/streamio/streamcoordinator/pkg/raftrt"
)

// Submitter is the subset of a clustered command-submission path the API
// needs: submit a command to the current cluster leader, retrying across
// servers per spec §7's "command submission errors are retried over
// remaining cluster servers" policy.
type Submitter interface {
	Submit(ctx context.Context, kind coordinator.CommandKind, payload interface{}) (raftrt.Reply, error)
}

// Server is the fasthttp-based command/query surface.
type Server struct {
	submitter  Submitter
	dispatcher *coordinator.Dispatcher
	auth       *Authenticator
	logger     core.Logger
	mesh       mesh.ServiceMesh

	freshnessGate time.Duration
}

// NewServer builds a Server. freshnessGate is the add_replica skew
// tolerance from spec §7 (10s), enforced here rather than in the
// replicated machine, matching the spec's placement decision. m dials each
// member's live process for the freshness check; a nil m disables the
// check (checkFreshness then passes through, matching a deployment with no
// peer-control transport at all).
func NewServer(submitter Submitter, dispatcher *coordinator.Dispatcher, auth *Authenticator, logger core.Logger, freshnessGate time.Duration, m mesh.ServiceMesh) *Server {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	if freshnessGate <= 0 {
		freshnessGate = 10 * time.Second
	}
	return &Server{submitter: submitter, dispatcher: dispatcher, auth: auth, logger: logger, mesh: m, freshnessGate: freshnessGate}
}

// Handler returns the fasthttp request handler routing this server's
// endpoints.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !s.authorize(ctx) {
			return
		}

		switch string(ctx.Path()) {
		case "/v1/streams":
			s.handleNewStream(ctx)
		case "/v1/streams/add-replica":
			s.handleAddReplica(ctx)
		case "/v1/streams/delete-replica":
			s.handleDeleteReplica(ctx)
		case "/v1/query/writer":
			s.handleWriterQuery(ctx)
		case "/v1/query/members":
			s.handleMembersQuery(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) authorize(ctx *fasthttp.RequestCtx) bool {
	if s.auth == nil {
		return true
	}
	token := string(ctx.Request.Header.Peek("Authorization"))
	if _, err := s.auth.VerifyBearer(token); err != nil {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(err.Error())
		return false
	}
	return true
}

func (s *Server) handleNewStream(ctx *fasthttp.RequestCtx) {
	var req struct {
		StreamId string   `json:"stream_id"`
		Leader   string   `json:"leader"`
		Nodes    []string `json:"nodes"`
		QueueRef string   `json:"queue_ref"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	nodes := make([]coordinator.Node, len(req.Nodes))
	for i, n := range req.Nodes {
		nodes[i] = coordinator.Node(n)
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := s.submitter.Submit(reqCtx, coordinator.CmdNewStream, coordinator.NewStreamPayload{
		StreamId: coordinator.StreamId(req.StreamId),
		Leader:   coordinator.Node(req.Leader),
		Nodes:    nodes,
		QueueRef: req.QueueRef,
	})
	s.writeReply(ctx, reply, err)
}

func (s *Server) handleAddReplica(ctx *fasthttp.RequestCtx) {
	var req struct {
		StreamId string `json:"stream_id"`
		Node     string `json:"node"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	if err := s.checkFreshness(req.StreamId); err != nil {
		ctx.SetStatusCode(fasthttp.StatusConflict)
		ctx.SetBodyString(err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := s.submitter.Submit(reqCtx, coordinator.CmdAddReplica, coordinator.AddReplicaPayload{
		StreamId: coordinator.StreamId(req.StreamId), Node: coordinator.Node(req.Node),
	})
	s.writeReply(ctx, reply, err)
}

func (s *Server) handleDeleteReplica(ctx *fasthttp.RequestCtx) {
	var req struct {
		StreamId string `json:"stream_id"`
		Node     string `json:"node"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := s.submitter.Submit(reqCtx, coordinator.CmdDeleteReplica, coordinator.DeleteReplicaPayload{
		StreamId: coordinator.StreamId(req.StreamId), Node: coordinator.Node(req.Node),
	})
	s.writeReply(ctx, reply, err)
}

func (s *Server) handleWriterQuery(ctx *fasthttp.RequestCtx) {
	streamID := string(ctx.QueryArgs().Peek("stream_id"))
	val, qerr := s.dispatcher.Query(coordinator.WriterPidQuery{StreamId: coordinator.StreamId(streamID)})
	if qerr != nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(qerr.Error())
		return
	}
	body, _ := json.Marshal(val)
	ctx.SetBody(body)
}

func (s *Server) handleMembersQuery(ctx *fasthttp.RequestCtx) {
	streamID := string(ctx.QueryArgs().Peek("stream_id"))
	val, qerr := s.dispatcher.Query(coordinator.MembersQuery{StreamId: coordinator.StreamId(streamID)})
	if qerr != nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(qerr.Error())
		return
	}
	body, _ := json.Marshal(val)
	ctx.SetBody(body)
}

func (s *Server) writeReply(ctx *fasthttp.RequestCtx, reply raftrt.Reply, err error) {
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString(coordinator.NewError(coordinator.ErrCoordinatorUnavailable, "%v", err).Error())
		return
	}
	if !reply.OK {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		if reply.Err != nil {
			ctx.SetBodyString(reply.Err.Error())
		}
		return
	}
	body, _ := json.Marshal(reply.Value)
	ctx.SetBody(body)
}

// checkFreshness enforces add_replica's freshness gate (spec §7): dials
// every currently-running member's live process through pkg/mesh's
// "read_tail" action and refuses if the reported tails span more than
// freshnessGate of wall-clock time. The gate runs here, in the API caller,
// against live state read before submitting — never inside the replicated
// machine.
func (s *Server) checkFreshness(streamID string) error {
	if s.mesh == nil {
		return nil
	}

	val, qerr := s.dispatcher.Query(coordinator.MembersQuery{StreamId: coordinator.StreamId(streamID)})
	if qerr != nil {
		return nil // let the submit path surface stream_not_found
	}
	views, _ := val.([]coordinator.MemberView)

	reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var minAsOf, maxAsOf int64
	seen := 0
	for _, v := range views {
		if v.State != coordinator.StateRunning {
			continue
		}
		resp, err := s.mesh.Call(reqCtx, string(v.Node), "read_tail", coordinator.ReadTailRequest{
			Node: v.Node, StreamId: coordinator.StreamId(streamID),
		}, mesh.CallOptions{})
		if err != nil {
			s.logger.Warnf("add_replica freshness check: read_tail on %s: %v", v.Node, err)
			continue
		}
		tail, ok := resp.(coordinator.LiveTail)
		if !ok || tail.AsOfUnix == 0 {
			continue
		}
		if seen == 0 || tail.AsOfUnix < minAsOf {
			minAsOf = tail.AsOfUnix
		}
		if seen == 0 || tail.AsOfUnix > maxAsOf {
			maxAsOf = tail.AsOfUnix
		}
		seen++
	}

	if seen < 2 {
		return nil
	}
	skew := time.Duration(maxAsOf-minAsOf) * time.Second
	if skew > s.freshnessGate {
		return coordinator.NewError(coordinator.ErrDisallowed, "%s: existing members' write-offsets span %s, exceeding the %s freshness gate",
			coordinator.ErrDisallowedOutOfSyncReplica, skew, s.freshnessGate)
	}
	return nil
}

// meshSubmitter is a Submitter that dials the cluster leader through
// pkg/mesh, retrying across the remaining servers on failure, per spec
// §7's outside-apply error propagation policy.
type meshSubmitter struct {
	m       mesh.ServiceMesh
	servers []string
	local   *coordinator.Dispatcher
}

// NewMeshSubmitter builds a Submitter that applies locally if local is
// non-nil (single-node/test mode) and otherwise dials servers through m.
func NewMeshSubmitter(m mesh.ServiceMesh, servers []string, local *coordinator.Dispatcher) Submitter {
	return &meshSubmitter{m: m, servers: servers, local: local}
}

func (s *meshSubmitter) Submit(ctx context.Context, kind coordinator.CommandKind, payload interface{}) (raftrt.Reply, error) {
	if s.local != nil {
		_, reply, _ := s.local.Apply(raftrt.Meta{MachineVersion: coordinator.CurrentMachineVersion}, raftrt.Command{Kind: string(kind), Payload: payload})
		return reply, nil
	}

	var lastErr error
	for _, srv := range s.servers {
		resp, err := s.m.Call(ctx, srv, string(kind), payload, mesh.CallOptions{})
		if err == nil {
			if reply, ok := resp.(raftrt.Reply); ok {
				return reply, nil
			}
			return raftrt.Reply{OK: true, Value: resp}, nil
		}
		lastErr = err
	}
	return raftrt.Reply{}, fmt.Errorf("coordinator_unavailable: %w", lastErr)
}
