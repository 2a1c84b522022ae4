// Package pidfile writes and checks the master process id file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ship-components/ceres-framework-sub000/pkg/logger"
)

// Read returns the pid stored at path. A missing file yields 0 and no error.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

// Check reports the pid recorded at path and whether that process is alive.
func Check(path string) (pid int, running bool, err error) {
	pid, err = Read(path)
	if err != nil || pid <= 0 {
		return pid, false, err
	}
	running, err = process.PidExists(int32(pid))
	return pid, running, err
}

// Write records the current pid at path. A live process already recorded there
// is only reported; the file is taken over without signalling it.
func Write(path string, log *logger.Logger) error {
	if path == "" {
		return nil
	}
	if log == nil {
		log = logger.NewNop()
	}

	self := os.Getpid()
	pid, running, err := Check(path)
	switch {
	case err != nil:
		log.WithError(err).WithField("path", path).Warn("unable to inspect existing pid file")
	case running && pid != self:
		log.WithFields(map[string]interface{}{
			"path": path,
			"pid":  pid,
		}).Warn("pid file belongs to a running process, taking it over")
	case pid > 0 && !running:
		log.WithField("pid", pid).Debug("replacing stale pid file")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pid file %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)), 0o644); err != nil {
		return fmt.Errorf("pid file %s: %w", path, err)
	}
	log.WithFields(map[string]interface{}{"path": path, "pid": self}).Info("wrote pid file")
	return nil
}

// Remove deletes path when it still records the current process.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	pid, err := Read(path)
	if err != nil {
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
