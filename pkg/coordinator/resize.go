package coordinator

import (
	"context"
	"sync/atomic"

	"github.com/streamio/streamcoordinator/pkg/core"
	"github.com/streamio/streamcoordinator/pkg/mesh"
)

// Resizer reconciles the Raft runtime's membership against an external
// cluster roster on every tick (spec §6.5), gated so at most one
// reconciliation is in flight at a time.
type Resizer struct {
	roster  Roster
	m       mesh.ServiceMesh
	current map[Node]struct{}
	logger  core.Logger
	busy    atomic.Bool
}

// NewResizer builds a Resizer over roster, dialing add/remove RPCs through
// m against the nodes currently believed to be members.
func NewResizer(roster Roster, m mesh.ServiceMesh, initialMembers []Node, logger core.Logger) *Resizer {
	cur := make(map[Node]struct{}, len(initialMembers))
	for _, n := range initialMembers {
		cur[n] = struct{}{}
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Resizer{roster: roster, m: m, current: cur, logger: logger}
}

// Tick runs one reconciliation pass, doing nothing if one is already in
// flight.
func (r *Resizer) Tick(ctx context.Context) {
	if !r.busy.CompareAndSwap(false, true) {
		return
	}
	defer r.busy.Store(false)

	desired, err := r.roster.Desired(ctx)
	if err != nil {
		r.logger.Warnf("resize: roster lookup failed: %v", err)
		return
	}
	desiredSet := make(map[Node]struct{}, len(desired))
	for _, n := range desired {
		desiredSet[n] = struct{}{}
	}

	for n := range desiredSet {
		if _, ok := r.current[n]; ok {
			continue
		}
		if _, err := r.m.Call(ctx, string(n), "add_member", n, mesh.CallOptions{}); err != nil {
			r.logger.Warnf("resize: add_member %s failed: %v", n, err)
			continue
		}
		r.current[n] = struct{}{}
	}

	for n := range r.current {
		if _, ok := desiredSet[n]; ok {
			continue
		}
		if _, err := r.m.Call(ctx, string(n), "remove_member", n, mesh.CallOptions{}); err != nil {
			r.logger.Warnf("resize: remove_member %s failed: %v", n, err)
			continue
		}
		delete(r.current, n)
	}
}
