//go:build !windows

package infra

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// treeScanner finds descendants that left the process group. Only
// platforms with a process table to walk provide one.
type treeScanner interface {
	scan(pgid int) ([]member, error)
	// groupOwned reports whether the last scan saw the group still alive
	// under its original identity.
	groupOwned() bool
	killEscapees()
}

type member struct {
	pid    int
	zombie bool
}

// groupBoundary uses a dedicated process group. The child enters the group
// between fork and exec, so none of the command's code runs outside it.
type groupBoundary struct {
	pgid    int
	scanner treeScanner
}

func newBoundary() (boundary, error) {
	return &groupBoundary{}, nil
}

func (b *groupBoundary) strategy() string {
	if b.scanner != nil {
		return "process-group+tree"
	}
	return "process-group"
}

func (b *groupBoundary) prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = 0
	setParentDeathSignal(cmd.SysProcAttr)
}

func (b *groupBoundary) attach(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process was not started")
	}
	b.pgid = cmd.Process.Pid
	b.scanner = newTreeScanner(b.pgid)
	return nil
}

func (b *groupBoundary) activity() (Activity, error) {
	if b.pgid == 0 {
		return Activity{}, nil
	}
	if b.scanner != nil {
		found, err := b.scanner.scan(b.pgid)
		if err != nil {
			return Activity{}, err
		}
		a := Activity{Members: uint(len(found))}
		for _, m := range found {
			if !m.zombie {
				a.Active++
			}
		}
		return a, nil
	}

	alive, err := probeGroup(b.pgid)
	if err != nil || !alive {
		return Activity{}, err
	}
	return Activity{Members: 1, Active: 1}, nil
}

func (b *groupBoundary) members() ([]int, error) {
	if b.pgid == 0 {
		return nil, nil
	}
	if b.scanner != nil {
		found, err := b.scanner.scan(b.pgid)
		if err != nil {
			return nil, err
		}
		pids := make([]int, 0, len(found))
		for _, m := range found {
			pids = append(pids, m.pid)
		}
		return pids, nil
	}

	alive, err := probeGroup(b.pgid)
	if err != nil || !alive {
		return nil, err
	}
	return []int{b.pgid}, nil
}

func (b *groupBoundary) terminate() error {
	if b.pgid == 0 {
		return nil
	}
	var err error
	if b.scanner != nil {
		// Pick up descendants that left the group since the last poll. A
		// group id that no longer names our group must not be signalled.
		if _, scanErr := b.scanner.scan(b.pgid); scanErr != nil || b.scanner.groupOwned() {
			err = unix.Kill(-b.pgid, unix.SIGKILL)
		}
		b.scanner.killEscapees()
	} else {
		err = unix.Kill(-b.pgid, unix.SIGKILL)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", b.pgid, err)
	}
	return nil
}

func (b *groupBoundary) close() error {
	b.pgid = 0
	b.scanner = nil
	return nil
}

// probeGroup sends signal 0 to the group. EPERM still proves a member exists.
func probeGroup(pgid int) (bool, error) {
	err := unix.Kill(-pgid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("probe process group %d: %w", pgid, err)
	}
}
