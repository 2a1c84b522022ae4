package topology

import (
	"io"
	"os"
	"os/exec"
	"strings"
)

// ExitStatus describes how a worker ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
	Err    error
}

// Signaled reports whether the worker was terminated by a signal.
func (s ExitStatus) Signaled() bool { return s.Signal != "" }

func (s ExitStatus) String() string {
	if s.Signaled() {
		return "signal: " + s.Signal
	}
	return "exit status " + itoa(s.Code)
}

// SpawnSpec is what a worker is started with.
type SpawnSpec struct {
	// Env is appended to the current environment.
	Env []string
	// Files are inherited starting at descriptor 3.
	Files []*os.File
}

// Process is a started worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Wait blocks until the worker exits.
	Wait() ExitStatus
}

// Spawner starts workers.
type Spawner interface {
	Spawn(spec SpawnSpec) (Process, error)
}

// ExecSpawner re-executes a binary, by default the running one with its
// original arguments.
type ExecSpawner struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecSpawner re-executes the current binary.
func NewExecSpawner() *ExecSpawner {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	return &ExecSpawner{Path: path, Args: os.Args[1:], Stdout: os.Stdout, Stderr: os.Stderr}
}

// Spawn starts the binary. The child is not tied to any context so it outlives
// cancellation until it is signalled.
func (s *ExecSpawner) Spawn(spec SpawnSpec) (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.ExtraFiles = spec.Files
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	st := ExitStatus{Code: state.ExitCode()}
	if st.Code == -1 {
		st.Signal = strings.TrimPrefix(state.String(), "signal: ")
	}
	return st
}
