//go:build linux

package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const procRoot = "/proc"

func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}

type procStat struct {
	pid   int
	ppid  int
	pgrp  int
	state byte
	start uint64
}

// procTracker walks /proc on every scan. Every process it has counted is
// remembered with its start time, so a recycled PID (the leader's included)
// is never mistaken for a member.
type procTracker struct {
	root string

	mu          sync.Mutex
	leaderStart uint64
	known       map[int]uint64
	escapees    map[int]uint64
	ownsGroup   bool
	groupGone   bool
}

func newTreeScanner(leader int) treeScanner {
	if _, err := os.Stat(procRoot); err != nil {
		return nil
	}
	return newProcTracker(procRoot, leader)
}

func newProcTracker(root string, leader int) *procTracker {
	t := &procTracker{
		root:     root,
		known:    make(map[int]uint64),
		escapees: make(map[int]uint64),
	}
	// The leader may already have been reaped; then any process found
	// under its id later is a stranger.
	if st, err := readProcStat(root, leader); err == nil && st.pgrp == leader {
		t.leaderStart = st.start
		t.known[leader] = st.start
	}
	return t
}

func (t *procTracker) scan(pgid int) ([]member, error) {
	table, err := readProcTable(t.root)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ours := func(pid int) bool {
		st, ok := table[pid]
		start, seen := t.known[pid]
		return ok && seen && st.start == start
	}

	t.ownsGroup = !t.groupGone && t.groupIntact(table, pgid)
	if !t.ownsGroup {
		// An emptied group can never be rejoined, so this is final.
		t.groupGone = true
	}

	children := make(map[int][]int, len(table))
	for _, st := range table {
		children[st.ppid] = append(children[st.ppid], st.pid)
	}

	var queue []int
	for pid := range t.known {
		if ours(pid) {
			queue = append(queue, pid)
		}
	}
	if t.ownsGroup {
		for _, st := range table {
			if st.pgrp == pgid {
				queue = append(queue, st.pid)
			}
		}
	}

	inside := make(map[int]bool)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if _, ok := table[pid]; !ok || inside[pid] {
			continue
		}
		inside[pid] = true
		queue = append(queue, children[pid]...)
	}

	t.known = make(map[int]uint64, len(inside))
	for pid, start := range t.escapees {
		if st, ok := table[pid]; !ok || st.start != start {
			delete(t.escapees, pid)
		}
	}

	found := make([]member, 0, len(inside))
	for pid := range inside {
		st := table[pid]
		t.known[pid] = st.start
		if st.pgrp != pgid {
			t.escapees[pid] = st.start
		}
		found = append(found, member{pid: pid, zombie: st.state == 'Z'})
	}
	return found, nil
}

// groupIntact decides whether pgid still names our group. The kernel keeps
// a PID reserved while it is the id of a live group, so without a process
// under the id itself, any remaining member is ours. A process holding the
// id must be the original leader.
func (t *procTracker) groupIntact(table map[int]procStat, pgid int) bool {
	if st, ok := table[pgid]; ok {
		return t.leaderStart != 0 && st.start == t.leaderStart && st.pgrp == pgid
	}
	for _, st := range table {
		if st.pgrp == pgid {
			return true
		}
	}
	return false
}

// groupOwned reports whether the last scan proved that the process group
// id still names the group this tracker was started for.
func (t *procTracker) groupOwned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ownsGroup
}

func (t *procTracker) killEscapees() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pid, start := range t.escapees {
		st, err := readProcStat(t.root, pid)
		if err == nil && st.start == start {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
		delete(t.escapees, pid)
	}
}

func readProcTable(root string) (map[int]procStat, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}

	table := make(map[int]procStat, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		st, err := readProcStat(root, pid)
		if err != nil {
			// Exited between ReadDir and the read.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
				continue
			}
			return nil, err
		}
		table[pid] = st
	}
	return table, nil
}

func readProcStat(root string, pid int) (procStat, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", root, pid))
	if err != nil {
		return procStat{}, err
	}
	return parseProcStat(string(data))
}

// parseProcStat decodes /proc/<pid>/stat. The command name may itself hold
// spaces and parentheses, so fields are taken after the last ')'.
func parseProcStat(line string) (procStat, error) {
	open := strings.IndexByte(line, '(')
	end := strings.LastIndexByte(line, ')')
	if open <= 0 || end < open {
		return procStat{}, fmt.Errorf("malformed stat line %q", line)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(line[:open]))
	if err != nil {
		return procStat{}, fmt.Errorf("stat pid: %w", err)
	}

	fields := strings.Fields(line[end+1:])
	// state(3) ppid(4) pgrp(5) ... starttime(22)
	if len(fields) < 20 || len(fields[0]) != 1 {
		return procStat{}, fmt.Errorf("short stat line for pid %d", pid)
	}

	st := procStat{pid: pid, state: fields[0][0]}
	if st.ppid, err = strconv.Atoi(fields[1]); err != nil {
		return procStat{}, fmt.Errorf("stat ppid: %w", err)
	}
	if st.pgrp, err = strconv.Atoi(fields[2]); err != nil {
		return procStat{}, fmt.Errorf("stat pgrp: %w", err)
	}
	if st.start, err = strconv.ParseUint(fields[19], 10, 64); err != nil {
		return procStat{}, fmt.Errorf("stat starttime: %w", err)
	}
	return st, nil
}
