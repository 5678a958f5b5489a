//go:build !unix

package subprocess

import "os/exec"

func configureProcessGroup(*exec.Cmd) {}

// terminateProcessGroup kills the direct child only; there is no graceful
// signal or process group to target here.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
