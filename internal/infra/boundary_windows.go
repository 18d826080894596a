//go:build windows

package infra

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	jobObjectBasicAccountingInformation int32 = 1
	jobObjectBasicProcessIDList         int32 = 3

	processSuspendResume = 0x0800

	maxListedMembers = 512
)

var procNtResumeProcess = windows.NewLazySystemDLL("ntdll.dll").NewProc("NtResumeProcess")

type jobAccountingInfo struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
}

type jobProcessIDList struct {
	NumberOfAssignedProcesses uint32
	NumberOfProcessIdsInList  uint32
	ProcessIdList             [maxListedMembers]uintptr
}

// jobBoundary is a job object configured to kill every member when its last
// handle closes. Processes are launched suspended and only resumed once they
// are inside the job, so nothing they spawn can start outside it.
type jobBoundary struct {
	job windows.Handle
}

func newBoundary() (boundary, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return nil, fmt.Errorf("configure job object: %w", err)
	}

	return &jobBoundary{job: job}, nil
}

func (b *jobBoundary) strategy() string {
	return "job-object"
}

func (b *jobBoundary) prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_SUSPENDED
}

func (b *jobBoundary) attach(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process was not started")
	}

	h, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE|processSuspendResume,
		false,
		uint32(cmd.Process.Pid),
	)
	if err != nil {
		return fmt.Errorf("open process %d: %w", cmd.Process.Pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.AssignProcessToJobObject(b.job, h); err != nil {
		return fmt.Errorf("assign process %d to job: %w", cmd.Process.Pid, err)
	}

	if err := procNtResumeProcess.Find(); err != nil {
		return fmt.Errorf("resume process %d: %w", cmd.Process.Pid, err)
	}
	if status, _, _ := procNtResumeProcess.Call(uintptr(h)); status != 0 {
		return fmt.Errorf("resume process %d: NTSTATUS 0x%08x", cmd.Process.Pid, status)
	}
	return nil
}

func (b *jobBoundary) activity() (Activity, error) {
	if b.job == 0 {
		return Activity{}, nil
	}
	var info jobAccountingInfo
	if err := windows.QueryInformationJobObject(
		b.job,
		jobObjectBasicAccountingInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	); err != nil {
		return Activity{}, fmt.Errorf("query job accounting: %w", err)
	}
	return Activity{Members: uint(info.TotalProcesses), Active: uint(info.ActiveProcesses)}, nil
}

func (b *jobBoundary) members() ([]int, error) {
	if b.job == 0 {
		return nil, nil
	}
	var list jobProcessIDList
	err := windows.QueryInformationJobObject(
		b.job,
		jobObjectBasicProcessIDList,
		uintptr(unsafe.Pointer(&list)),
		uint32(unsafe.Sizeof(list)),
		nil,
	)
	// ERROR_MORE_DATA still fills the list up to its capacity.
	if err != nil && !errors.Is(err, windows.ERROR_MORE_DATA) {
		return nil, fmt.Errorf("query job members: %w", err)
	}

	n := min(int(list.NumberOfProcessIdsInList), maxListedMembers)
	pids := make([]int, 0, n)
	for _, pid := range list.ProcessIdList[:n] {
		pids = append(pids, int(pid))
	}
	return pids, nil
}

func (b *jobBoundary) terminate() error {
	if b.job == 0 {
		return nil
	}
	if err := windows.TerminateJobObject(b.job, 1); err != nil {
		return fmt.Errorf("terminate job object: %w", err)
	}
	return nil
}

func (b *jobBoundary) close() error {
	if b.job == 0 {
		return nil
	}
	job := b.job
	b.job = 0
	if err := windows.CloseHandle(job); err != nil {
		return fmt.Errorf("close job object: %w", err)
	}
	return nil
}
