//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals aimed
// at the harness do not reach it directly; the supervisor decides when it
// stops.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *ServerProcess) error {
	return signalGroup(p, syscall.SIGTERM)
}

func kill(p *ServerProcess) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *ServerProcess, sig syscall.Signal) error {
	if err := syscall.Kill(-p.PID, sig); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return p.cmd.Process.Signal(sig)
	}
	return nil
}
