package topology

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// listenerFile duplicates the descriptor of ln for a child process.
func listenerFile(ln net.Listener) (*os.File, error) {
	f, ok := ln.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, fmt.Errorf("listener %T cannot be shared with workers", ln)
	}
	return f.File()
}

func clusterEnv(id int) []string {
	return []string{envPair(EnvClusterWorker, id)}
}

func alwaysRestart(ExitStatus) bool { return true }

// =============================================================================
// Cluster
// =============================================================================

// Cluster binds the public port once and hands the listener to every worker.
// The master does not serve; every worker exit is replaced until the failure
// ceiling is exceeded.
type Cluster struct {
	opts Options
	sup  *supervisor
}

// Name implements Runner.
func (c *Cluster) Name() string { return StrategyCluster }

// Run binds, starts the workers and supervises them until a signal arrives or
// the failure ceiling is exceeded.
func (c *Cluster) Run(ctx context.Context) error {
	cfg := c.opts.Config
	ln, err := c.opts.Listen("tcp", cfg.Addr(cfg.Port))
	if err != nil {
		return fmt.Errorf("cluster listen: %w", err)
	}
	defer ln.Close()

	file, err := listenerFile(ln)
	if err != nil {
		return err
	}
	defer file.Close()

	slots := make([]slot, cfg.Instances)
	for i := range slots {
		slots[i] = slot{env: clusterEnv, files: []*os.File{file}}
	}

	c.sup = &supervisor{
		name:    StrategyCluster,
		log:     c.opts.Log.WithComponent("cluster"),
		spawner: c.opts.Spawner,
		slots:   slots,
		restart: alwaysRestart,
		ceiling: ceiling(cfg, DefaultFailureCeiling),
		grace:   grace(cfg),
	}
	c.sup.log.WithFields(map[string]interface{}{
		"addr":    ln.Addr().String(),
		"workers": cfg.Instances,
	}).Info("starting cluster")

	signals, stop := notify(c.opts.Signals)
	defer stop()
	return c.sup.run(ctx, signals)
}

// =============================================================================
// Sticky cluster
// =============================================================================

// SlotFor pins a client address to one of n workers.
func SlotFor(ip string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return int(h.Sum32() % uint32(n))
}

// StickyCluster gives each worker its own loopback listener. The master accepts
// on the public port and proxies each connection to the worker chosen by the
// client IP, so a client keeps reaching the same worker across restarts.
type StickyCluster struct {
	opts Options
	sup  *supervisor
}

// Name implements Runner.
func (s *StickyCluster) Name() string { return StrategySticky }

// Run binds the public and per-worker listeners, starts the workers and
// proxies connections until a signal arrives or the failure ceiling is
// exceeded.
func (s *StickyCluster) Run(ctx context.Context) error {
	cfg := s.opts.Config
	log := s.opts.Log.WithComponent("sticky-cluster")

	public, err := s.opts.Listen("tcp", cfg.Addr(cfg.Port))
	if err != nil {
		return fmt.Errorf("sticky-cluster listen: %w", err)
	}
	defer public.Close()

	slots := make([]slot, cfg.Instances)
	backends := make([]string, cfg.Instances)
	for i := range slots {
		ln, err := s.opts.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("sticky-cluster worker listen: %w", err)
		}
		defer ln.Close()
		file, err := listenerFile(ln)
		if err != nil {
			return err
		}
		defer file.Close()
		slots[i] = slot{env: clusterEnv, files: []*os.File{file}}
		backends[i] = ln.Addr().String()
	}

	s.sup = &supervisor{
		name:    StrategySticky,
		log:     log,
		spawner: s.opts.Spawner,
		slots:   slots,
		restart: alwaysRestart,
		ceiling: ceiling(cfg, DefaultFailureCeiling),
		grace:   grace(cfg),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		proxy(public, backends, log)
	}()
	log.WithFields(map[string]interface{}{
		"addr":    public.Addr().String(),
		"workers": cfg.Instances,
	}).Info("starting sticky cluster")

	signals, stop := notify(s.opts.Signals)
	defer stop()
	err = s.sup.run(ctx, signals)
	public.Close()
	wg.Wait()
	return err
}

// proxy accepts on public until it is closed.
func proxy(public net.Listener, backends []string, log *logger.Logger) {
	for {
		conn, err := public.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		backend := backends[SlotFor(remoteIP(conn.RemoteAddr()), len(backends))]
		go forward(conn, backend, log)
	}
}

func remoteIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// forward copies bytes both ways until both directions are closed.
func forward(client net.Conn, backend string, log *logger.Logger) {
	defer client.Close()
	upstream, err := net.DialTimeout("tcp", backend, 5*time.Second)
	if err != nil {
		log.WithError(err).WithField("backend", backend).Warn("worker unreachable")
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}
	go pipe(upstream, client)
	go pipe(client, upstream)
	wg.Wait()
}
