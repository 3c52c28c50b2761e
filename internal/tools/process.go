package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTerminateGrace is how long Terminate waits after an interrupt
// before killing the process.
const DefaultTerminateGrace = 2 * time.Second

// Process is a started child process.
type Process struct {
	name  string
	cmd   *exec.Cmd
	grace time.Duration

	done    chan struct{}
	waitErr error

	once sync.Once
}

// Start launches name with args. Output lines are forwarded to the debug log.
func (r ExecRunner) Start(name string, args ...string) (*Process, error) {
	cmd := exec.Command(name, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("tools: start %s: %w", name, err)
	}
	p := &Process{
		name:  name,
		cmd:   cmd,
		grace: DefaultTerminateGrace,
		done:  make(chan struct{}),
	}
	go p.forward(pr)
	go func() {
		p.waitErr = cmd.Wait()
		pw.Close()
		close(p.done)
	}()
	log.Debug().Msgf("tools.Process start name=%s pid=%d", name, cmd.Process.Pid)
	return p, nil
}

// maxLogLine bounds one forwarded output line.
const maxLogLine = 1 << 20

// forward logs output lines and keeps draining the pipe after an overlong
// line so the child never blocks on a full pipe.
func (p *Process) forward(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for sc.Scan() {
		log.Debug().Str("proc", p.name).Msg(sc.Text())
	}
	if err := sc.Err(); err != nil {
		log.Debug().Err(err).Msgf("tools.Process output name=%s, discarding the rest", p.name)
	}
	_, _ = io.Copy(io.Discard, r)
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error of a process that has exited, and nil while
// it is still running.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// Terminate interrupts the process and kills it if it has not exited within
// the grace period or before ctx is done. It is safe to call more than once.
func (p *Process) Terminate(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		err = p.terminate(ctx)
	})
	return err
}

func (p *Process) terminate(ctx context.Context) error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn().Err(err).Msgf("tools.Process interrupt name=%s", p.name)
	}
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	log.Warn().Msgf("tools.Process kill name=%s pid=%d", p.name, p.Pid())
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("tools: kill %s: %w", p.name, err)
	}
	<-p.done
	return nil
}
