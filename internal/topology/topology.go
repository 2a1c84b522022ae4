// Package topology decides how many OS processes serve traffic and supervises
// them.
//
// A process runs one of four strategies: single (serve in-process), cluster
// (workers share one inherited listener), sticky-cluster (the master pins each
// client IP to one worker and proxies its connections) or fork (one child per
// port, each running the full startup path). Workers are re-executions of the
// current binary; their role is read back from the environment.
package topology

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// Strategy names.
const (
	StrategySingle  = "single"
	StrategyCluster = "cluster"
	StrategySticky  = "sticky-cluster"
	StrategyFork    = "fork"
)

// Environment handed to workers.
const (
	EnvPort          = "PORT"
	EnvUniqueID      = "CERES_UNIQUE_ID"
	EnvWorkerIndex   = "WORKER_INDEX"
	EnvClusterWorker = "CERES_CLUSTER_WORKER"
)

// ListenerFD is the descriptor of the listener inherited by cluster workers.
const ListenerFD = 3

// DefaultFailureCeiling bounds worker restarts in the cluster strategies.
const DefaultFailureCeiling = 10

// ErrTooManyFailures is returned by a master whose workers crashed more often
// than the failure ceiling allows.
var ErrTooManyFailures = errors.New("topology: too many worker failures")

// ErrNoServe is returned when a serving role has no ServeFunc.
var ErrNoServe = errors.New("topology: no serve function")

// ServeFunc serves HTTP on ln until ctx is cancelled.
type ServeFunc func(ctx context.Context, ln net.Listener) error

// Runner is a selected strategy.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Role is what the current process is within its topology.
type Role int

const (
	// RoleMaster is a process that may start workers.
	RoleMaster Role = iota
	// RoleClusterWorker serves on a listener inherited from its master.
	RoleClusterWorker
	// RoleForkChild serves on the port in $PORT.
	RoleForkChild
)

func (r Role) String() string {
	switch r {
	case RoleClusterWorker:
		return "cluster-worker"
	case RoleForkChild:
		return "fork-child"
	default:
		return "master"
	}
}

// Options configure New.
type Options struct {
	Config  *config.Config
	Log     *logger.Logger
	Serve   ServeFunc
	Spawner Spawner
	// Signals replaces SIGINT/SIGTERM delivery, mainly for tests.
	Signals <-chan os.Signal
	// Listen defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (o *Options) defaults() {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Log == nil {
		o.Log = logger.NewNop()
	}
	if o.Listen == nil {
		o.Listen = net.Listen
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Spawner == nil {
		o.Spawner = NewExecSpawner()
	}
}

// CurrentRole derives the process role from the environment.
func CurrentRole(getenv func(string) string) Role {
	if getenv == nil {
		getenv = os.Getenv
	}
	switch {
	case getenv(EnvClusterWorker) != "":
		return RoleClusterWorker
	case getenv(EnvUniqueID) != "":
		return RoleForkChild
	default:
		return RoleMaster
	}
}

// Select names the strategy cfg asks for. Fewer than two instances without
// fork mode runs single.
func Select(cfg *config.Config) string {
	switch {
	case cfg.ProcessManagement == config.ProcessFork:
		return StrategyFork
	case cfg.Instances <= 1:
		return StrategySingle
	case cfg.ProcessManagement == config.ProcessStickyCluster:
		return StrategySticky
	default:
		return StrategyCluster
	}
}

// New returns the runner for this process: a worker role when the environment
// says so, otherwise the strategy selected from the config.
func New(opts Options) (Runner, error) {
	opts.defaults()
	switch CurrentRole(opts.Getenv) {
	case RoleClusterWorker:
		return &Worker{opts: opts}, nil
	case RoleForkChild:
		return &ForkChild{opts: opts}, nil
	}
	switch Select(opts.Config) {
	case StrategyFork:
		return &Fork{opts: opts}, nil
	case StrategySticky:
		return &StickyCluster{opts: opts}, nil
	case StrategyCluster:
		return &Cluster{opts: opts}, nil
	default:
		return &Single{opts: opts}, nil
	}
}

// ceiling is the restart failure limit; 0 means unlimited.
func ceiling(cfg *config.Config, fallback int) int {
	if cfg.MaxRestarts > 0 {
		return cfg.MaxRestarts
	}
	return fallback
}

func grace(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// signalContext cancels ctx on SIGINT/SIGTERM, or on the first value of
// signals when one is given.
func signalContext(ctx context.Context, signals <-chan os.Signal) (context.Context, context.CancelFunc) {
	if signals == nil {
		return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// notify returns the signal channel supervisors select on.
func notify(signals <-chan os.Signal) (<-chan os.Signal, func()) {
	if signals != nil {
		return signals, func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

func envPair(key string, v int) string {
	return key + "=" + strconv.Itoa(v)
}
