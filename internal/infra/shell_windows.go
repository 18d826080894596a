//go:build windows

package infra

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// shellCommand hands the command line to cmd.exe untouched; /s strips the
// outer quotes so the user's own quoting survives.
func shellCommand(command string) *exec.Cmd {
	comspec := os.Getenv("COMSPEC")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	cmd := exec.Command(comspec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: fmt.Sprintf(`%s /d /s /c "%s"`, syscall.EscapeArg(comspec), command),
	}
	return cmd
}
