package playback

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// CommandDevice drives an external player process (e.g. ffplay or aplay).
// Pause and resume map to SIGSTOP/SIGCONT; stop kills the process.
type CommandDevice struct {
	command string
	args    []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewCommandDevice creates a device spawning command with args plus the
// artifact path appended.
func NewCommandDevice(command string, args ...string) *CommandDevice {
	return &CommandDevice{command: command, args: args}
}

func (d *CommandDevice) Start(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return fmt.Errorf("player: already active")
	}
	args := append(append([]string{}, d.args...), path)
	cmd := exec.Command(d.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("player: spawn %s: %w", d.command, err)
	}
	d.cmd = cmd
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (d *CommandDevice) Pause() error {
	return d.signal(syscall.SIGSTOP)
}

func (d *CommandDevice) Resume() error {
	return d.signal(syscall.SIGCONT)
}

func (d *CommandDevice) Stop() error {
	d.mu.Lock()
	cmd := d.cmd
	d.cmd = nil
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGCONT)
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("player: kill: %w", err)
	}
	return nil
}

func (d *CommandDevice) signal(sig syscall.Signal) error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("player: not active")
	}
	if err := cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("player: signal %v: %w", sig, err)
	}
	return nil
}
