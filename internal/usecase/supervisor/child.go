package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// LaunchSpec describes how to start the backend process.
type LaunchSpec struct {
	ExePath string
	Port    int
	Config  string            // value for --config
	Env     map[string]string // extra environment for the child
}

// Child is a handle to the spawned backend. Implementations wrap the OS
// process and its process group where the platform has one.
type Child interface {
	PID() int
	// Output streams merged stdout/stderr lines. The channel closes when both
	// pipes are drained.
	Output() <-chan string
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// ExitErr reports the process's exit error; valid only after Done.
	ExitErr() error
	// Terminate delivers the graceful stop signal to the process group on
	// POSIX, or to the process on the signal-less platform.
	Terminate() error
	// Kill forcefully ends the same target Terminate signals.
	Kill() error
}

// Launcher starts backend processes. A fake implementation stands in during tests.
type Launcher interface {
	Launch(spec LaunchSpec) (Child, error)
}

// ExecLauncher launches real OS processes with os/exec.
type ExecLauncher struct{}

// Launch starts the backend as `<exe> start --port N --config <cfg>` with the
// working directory set to the executable's own directory.
func (ExecLauncher) Launch(spec LaunchSpec) (Child, error) {
	cmd := exec.Command(spec.ExePath,
		"start",
		"--port", fmt.Sprintf("%d", spec.Port),
		"--config", spec.Config,
	)
	cmd.Dir = filepath.Dir(spec.ExePath)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn backend: %w", err)
	}

	c := &execChild{
		cmd:    cmd,
		output: make(chan string, 64),
		done:   make(chan struct{}),
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	for _, pipe := range []interface{ Read([]byte) (int, error) }{stdout, stderr} {
		go func(r interface{ Read([]byte) (int, error) }) {
			defer pipes.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
			for scanner.Scan() {
				select {
				case c.output <- scanner.Text():
				default: // nobody reading; drop rather than block the child
				}
			}
		}(pipe)
	}

	go func() {
		pipes.Wait()
		close(c.output)
		c.exitErr = cmd.Wait()
		close(c.done)
	}()

	return c, nil
}

type execChild struct {
	cmd     *exec.Cmd
	output  chan string
	done    chan struct{}
	exitErr error
}

func (c *execChild) PID() int              { return c.cmd.Process.Pid }
func (c *execChild) Output() <-chan string { return c.output }
func (c *execChild) Done() <-chan struct{} { return c.done }
func (c *execChild) ExitErr() error        { return c.exitErr }
func (c *execChild) Terminate() error      { return terminate(c.cmd.Process.Pid) }
func (c *execChild) Kill() error           { return kill(c.cmd.Process.Pid) }
