//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

func terminate(p *ServerProcess) error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func kill(p *ServerProcess) error {
	return p.cmd.Process.Kill()
}
