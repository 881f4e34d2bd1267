package session

import (
	"os/exec"
	"syscall"
)

// CmdProcess adapts a started *exec.Cmd to the Process interface. done
// must be closed by whoever waits on the command.
type CmdProcess struct {
	cmd  *exec.Cmd
	done <-chan struct{}
}

func NewCmdProcess(cmd *exec.Cmd, done <-chan struct{}) *CmdProcess {
	return &CmdProcess{cmd: cmd, done: done}
}

func (c *CmdProcess) Terminate() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Signal(syscall.SIGTERM)
}

func (c *CmdProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *CmdProcess) Done() <-chan struct{} { return c.done }
