package topology

import (
	"context"
	"fmt"
)

// Single serves in the current process.
type Single struct {
	opts Options
}

// Name implements Runner.
func (s *Single) Name() string { return StrategySingle }

// Run binds the configured port and serves until SIGINT/SIGTERM or ctx ends.
func (s *Single) Run(ctx context.Context) error {
	if s.opts.Serve == nil {
		return ErrNoServe
	}
	cfg := s.opts.Config
	ln, err := s.opts.Listen("tcp", cfg.Addr(cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.opts.Log.WithField("addr", ln.Addr().String()).Info("serving")

	ctx, cancel := signalContext(ctx, s.opts.Signals)
	defer cancel()
	return s.opts.Serve(ctx, ln)
}
