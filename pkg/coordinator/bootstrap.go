package coordinator

import "context"

// BootstrapCoordinator abstracts the source's global cluster-formation
// lock as an external collaborator: the state machine never depends on
// bootstrapping semantics, it only assumes some process ensures the
// initial cluster is formed before commands start flowing.
type BootstrapCoordinator interface {
	EnsureCluster(ctx context.Context, members []Node) ([]Node, error)
}

// pingBootstrap is the simplest possible BootstrapCoordinator: it declares
// a node started if a ping call through the supplied function succeeds.
type pingBootstrap struct {
	ping func(ctx context.Context, node Node) error
}

// NewPingBootstrapCoordinator builds a BootstrapCoordinator that pings each
// member once and returns the members whose ping succeeded. Members that
// fail the ping are left out of the result; EnsureCluster never returns an
// error.
func NewPingBootstrapCoordinator(ping func(ctx context.Context, node Node) error) BootstrapCoordinator {
	return &pingBootstrap{ping: ping}
}

func (b *pingBootstrap) EnsureCluster(ctx context.Context, members []Node) ([]Node, error) {
	var started []Node
	for _, n := range members {
		if err := b.ping(ctx, n); err != nil {
			continue
		}
		started = append(started, n)
	}
	return started, nil
}
