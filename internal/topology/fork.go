package topology

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
)

// Fork starts one child per port. Each child re-runs the whole startup path and
// binds its own port, which is fixed for the slot along with its unique id.
type Fork struct {
	opts Options
	sup  *supervisor
}

// Name implements Runner.
func (f *Fork) Name() string { return StrategyFork }

// ForkPorts lists the port of every fork slot: max(instances, len(ports))
// slots, with ports beyond the configured list counting up from the last one.
func ForkPorts(ports []int, instances int) []int {
	n := instances
	if len(ports) > n {
		n = len(ports)
	}
	if len(ports) == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		if i < len(ports) {
			out[i] = ports[i]
			continue
		}
		out[i] = ports[len(ports)-1] + i - len(ports) + 1
	}
	return out
}

// restartFork respawns on a non-zero exit code. A signal exit is intentional
// and never respawned.
func restartFork(st ExitStatus) bool {
	return !st.Signaled() && st.Code != 0
}

// Run starts the children and supervises them. SIGINT/SIGTERM stop restarts
// and are forwarded to every child.
func (f *Fork) Run(ctx context.Context) error {
	cfg := f.opts.Config
	ports := ForkPorts(cfg.Ports, cfg.Instances)
	if len(ports) == 0 {
		return fmt.Errorf("fork: no ports configured")
	}

	slots := make([]slot, len(ports))
	for i, port := range ports {
		index, port := i, port
		slots[i] = slot{env: func(int) []string {
			return []string{
				envPair(EnvPort, port),
				envPair(EnvUniqueID, index+1),
				envPair(EnvWorkerIndex, index),
			}
		}}
	}

	f.sup = &supervisor{
		name:    StrategyFork,
		log:     f.opts.Log.WithComponent("fork"),
		spawner: f.opts.Spawner,
		slots:   slots,
		restart: restartFork,
		ceiling: ceiling(cfg, 0),
		grace:   grace(cfg),
	}
	f.sup.log.WithField("ports", ports).Info("forking children")

	signals, stop := notify(f.opts.Signals)
	defer stop()
	return f.sup.run(ctx, signals)
}

// =============================================================================
// Worker roles
// =============================================================================

// ForkChild serves on $PORT.
type ForkChild struct {
	opts Options
}

// Name implements Runner.
func (c *ForkChild) Name() string { return "fork-child" }

// Run listens on $PORT and serves until SIGINT/SIGTERM.
func (c *ForkChild) Run(ctx context.Context) error {
	if c.opts.Serve == nil {
		return ErrNoServe
	}
	port, err := strconv.Atoi(c.opts.Getenv(EnvPort))
	if err != nil {
		return fmt.Errorf("fork child: invalid %s: %w", EnvPort, err)
	}
	ln, err := c.opts.Listen("tcp", c.opts.Config.Addr(port))
	if err != nil {
		return fmt.Errorf("fork child listen: %w", err)
	}
	c.opts.Log.WithFields(map[string]interface{}{
		"id":   c.opts.Getenv(EnvUniqueID),
		"port": port,
	}).Info("fork child serving")

	ctx, cancel := signalContext(ctx, c.opts.Signals)
	defer cancel()
	return c.opts.Serve(ctx, ln)
}

// Worker serves on the listener inherited from a cluster master.
type Worker struct {
	opts Options
	// Listener overrides the inherited descriptor.
	Listener net.Listener
}

// Name implements Runner.
func (w *Worker) Name() string { return "cluster-worker" }

// Run serves on the inherited listener until SIGINT/SIGTERM.
func (w *Worker) Run(ctx context.Context) error {
	if w.opts.Serve == nil {
		return ErrNoServe
	}
	ln := w.Listener
	if ln == nil {
		file := os.NewFile(uintptr(ListenerFD), "ceres-listener")
		if file == nil {
			return fmt.Errorf("cluster worker: no inherited listener")
		}
		var err error
		ln, err = net.FileListener(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("cluster worker: %w", err)
		}
	}
	w.opts.Log.WithField("id", w.opts.Getenv(EnvClusterWorker)).Info("cluster worker serving")

	ctx, cancel := signalContext(ctx, w.opts.Signals)
	defer cancel()
	return w.opts.Serve(ctx, ln)
}
