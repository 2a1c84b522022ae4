package topology

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/ship-components/ceres-framework-sub000/internal/metrics"
	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// slot is one worker position. A crashed worker is replaced in the same slot.
type slot struct {
	env   func(id int) []string
	files []*os.File
}

type exitEvent struct {
	slot   int
	pid    int
	status ExitStatus
}

// supervisor starts one worker per slot and replaces them as they exit. All of
// its state is owned by the goroutine running run.
type supervisor struct {
	name    string
	log     *logger.Logger
	spawner Spawner
	slots   []slot
	// restart decides whether an exited worker is replaced.
	restart func(ExitStatus) bool
	// ceiling is the number of restarts tolerated; 0 is unlimited.
	ceiling int
	grace   time.Duration

	exits    chan exitEvent
	live     map[int]Process
	nextID   int
	failures int
	spawned  int
}

func (s *supervisor) run(ctx context.Context, signals <-chan os.Signal) error {
	s.exits = make(chan exitEvent)
	s.live = make(map[int]Process, len(s.slots))

	for i := range s.slots {
		if err := s.spawn(i); err != nil {
			s.shutdown(syscall.SIGTERM)
			return err
		}
	}

	for {
		select {
		case ev := <-s.exits:
			done, err := s.handleExit(ev, signals)
			if done {
				return err
			}
		case sig := <-signals:
			s.log.WithField("signal", sig.String()).Info("received signal, stopping workers")
			s.shutdown(sig)
			return nil
		case <-ctx.Done():
			s.shutdown(syscall.SIGTERM)
			return nil
		}
	}
}

func (s *supervisor) spawn(idx int) error {
	s.nextID++
	sl := s.slots[idx]
	var env []string
	if sl.env != nil {
		env = sl.env(s.nextID)
	}
	p, err := s.spawner.Spawn(SpawnSpec{Env: env, Files: sl.files})
	if err != nil {
		return fmt.Errorf("spawn worker %d: %w", idx, err)
	}
	s.spawned++
	s.live[idx] = p
	metrics.SetWorkers(s.name, len(s.live))
	s.log.WithFields(map[string]interface{}{
		"slot": idx,
		"id":   s.nextID,
		"pid":  p.Pid(),
	}).Info("worker started")

	go func() {
		st := p.Wait()
		s.exits <- exitEvent{slot: idx, pid: p.Pid(), status: st}
	}()
	return nil
}

// handleExit reports whether the supervisor is done, and with which error.
// A pending signal wins over a restart.
func (s *supervisor) handleExit(ev exitEvent, signals <-chan os.Signal) (bool, error) {
	delete(s.live, ev.slot)
	metrics.SetWorkers(s.name, len(s.live))

	entry := s.log.WithFields(map[string]interface{}{
		"slot":   ev.slot,
		"pid":    ev.pid,
		"status": ev.status.String(),
	})

	select {
	case sig := <-signals:
		metrics.RecordWorkerExit(s.name, "stopped")
		entry.WithField("signal", sig.String()).Info("worker exited while stopping, stopping workers")
		s.shutdown(sig)
		return true, nil
	default:
	}

	if !s.restart(ev.status) {
		metrics.RecordWorkerExit(s.name, "stopped")
		entry.Info("worker exited")
		return len(s.live) == 0, nil
	}

	s.failures++
	if s.ceiling > 0 && s.failures > s.ceiling {
		metrics.RecordWorkerExit(s.name, "abandoned")
		entry.WithField("failures", s.failures).Error("fatal: too many worker failures, shutting down")
		s.shutdown(syscall.SIGTERM)
		return true, ErrTooManyFailures
	}

	metrics.RecordWorkerExit(s.name, "restarted")
	entry.WithField("failures", s.failures).Warn("worker exited, restarting")
	if err := s.spawn(ev.slot); err != nil {
		s.shutdown(syscall.SIGTERM)
		return true, err
	}
	return false, nil
}

// shutdown signals every live worker and waits for them, killing stragglers
// after the grace period.
func (s *supervisor) shutdown(sig os.Signal) {
	for idx, p := range s.live {
		if err := p.Signal(sig); err != nil {
			s.log.WithError(err).WithField("slot", idx).Debug("unable to signal worker")
		}
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	for len(s.live) > 0 {
		select {
		case ev := <-s.exits:
			delete(s.live, ev.slot)
			metrics.RecordWorkerExit(s.name, "stopped")
		case <-timer.C:
			s.log.WithField("workers", len(s.live)).Warn("workers did not stop in time, killing")
			for _, p := range s.live {
				_ = p.Signal(os.Kill)
			}
		}
	}
	metrics.SetWorkers(s.name, 0)
}

func itoa(i int) string { return strconv.Itoa(i) }
