// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vmhandle is the host-side handle to a hypervisor child process
// (spec.md section 4.4), grounded on
// original_source/snapfaas/src/vm.rs's VmHandle/Vm: spawn a child with
// kernel/rootfs/appfs/memory/vcpu/CID parameters, accept its guest
// connection on a per-CID UNIX socket racing against the child exiting
// first, and expose framed send/recv built on internal/wire.
package vmhandle

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"faasten/internal/wire"
)

// FunctionDescriptor names the artifacts and memory budget needed to launch
// a VM for a function (spec.md section 3).
type FunctionDescriptor struct {
	Name         string
	MemoryMiB    int64
	VCPUs        int
	AppImage     string
	RuntimeImage string
	Kernel       string
}

// Config enumerates every hypervisor launch parameter from spec.md section
// 4.4. Exactly one of LoadDir or DumpDir may be set.
type Config struct {
	ID            string
	Kernel        string
	KernelArgs    string
	Rootfs        string
	Appfs         string
	MemoryMiB     int64
	VCPUs         int
	CID           uint32
	TapDevice     string
	MAC           string
	LoadDir       string
	LoadWorkingSet bool
	CopyBase      bool
	CopyDiff      bool
	ODirectBase   bool
	ODirectDiff   bool
	ODirectRootfs bool
	ODirectAppfs  bool
	DumpDir       string
	DumpWorkingSet bool
	// CaptureOutput pipes the hypervisor child's stdout/stderr into the VM
	// handle for diagnostics, mirroring vm.rs's child process output
	// plumbing.
	CaptureOutput bool
}

// Validate enforces spec.md section 4.4's "exactly one of load or dump".
func (c Config) Validate() error {
	if c.LoadDir != "" && c.DumpDir != "" {
		return errors.New("vmhandle: load_dir and dump_dir are mutually exclusive")
	}
	if c.DumpWorkingSet && c.DumpDir == "" {
		return errors.New("vmhandle: dump_ws requires dump_dir")
	}
	return nil
}

// ErrLaunchFailed is returned when the hypervisor child exits before the
// guest connects.
var ErrLaunchFailed = errors.New("vmhandle: hypervisor child exited before connecting")

// VM is a live hypervisor child plus its accepted guest connection.
type VM struct {
	Config Config

	cmd    *exec.Cmd
	conn   net.Conn
	stdout io.ReadCloser
	stderr io.ReadCloser

	closeOnce sync.Once
}

// hypervisorPath is the external hypervisor binary; overridable in tests.
var hypervisorPath = "firecracker"

// socketPath derives the per-CID listening socket path (spec.md section
// 4.4: "accept a UNIX socket connection from the guest on a per-CID
// listening socket").
func socketPath(cid uint32) string {
	return fmt.Sprintf("%s/faasten-vm-%d.sock", os.TempDir(), cid)
}

// Spawn launches a hypervisor child per cfg, accepts its guest connection,
// and returns a ready VM. If the child exits before connecting, Spawn
// detects this deterministically (by racing the listener's Accept against
// the child's Wait) and returns ErrLaunchFailed.
func Spawn(cfg Config) (*VM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sp := socketPath(cfg.CID)
	_ = os.Remove(sp)
	ln, err := net.Listen("unix", sp)
	if err != nil {
		return nil, fmt.Errorf("vmhandle: listen: %w", err)
	}
	defer ln.Close()

	args := buildArgs(cfg, sp)
	cmd := exec.Command(hypervisorPath, args...)
	var stdout, stderr io.ReadCloser
	if cfg.CaptureOutput {
		stdout, _ = cmd.StdoutPipe()
		stderr, _ = cmd.StderrPipe()
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("vmhandle: spawn: %w", err)
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptC := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		acceptC <- acceptResult{conn: conn, err: err}
	}()
	exitC := make(chan error, 1)
	go func() { exitC <- cmd.Wait() }()

	select {
	case res := <-acceptC:
		if res.err != nil {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("vmhandle: accept: %w", res.err)
		}
		return &VM{Config: cfg, cmd: cmd, conn: res.conn, stdout: stdout, stderr: stderr}, nil
	case err := <-exitC:
		_ = err
		return nil, ErrLaunchFailed
	}
}

func buildArgs(cfg Config, socket string) []string {
	args := []string{
		"--id", cfg.ID,
		"--kernel", cfg.Kernel,
		"--rootfs", cfg.Rootfs,
		"--mem-mib", fmt.Sprintf("%d", cfg.MemoryMiB),
		"--vcpus", fmt.Sprintf("%d", cfg.VCPUs),
		"--cid", fmt.Sprintf("%d", cfg.CID),
		"--vsock", socket,
	}
	if cfg.KernelArgs != "" {
		args = append(args, "--kernel-args", cfg.KernelArgs)
	}
	if cfg.Appfs != "" {
		args = append(args, "--appfs", cfg.Appfs)
	}
	if cfg.TapDevice != "" {
		args = append(args, "--tap", cfg.TapDevice, "--mac", cfg.MAC)
	}
	if cfg.LoadDir != "" {
		args = append(args, "--load-dir", cfg.LoadDir)
		if cfg.LoadWorkingSet {
			args = append(args, "--load-ws")
		}
	}
	if cfg.DumpDir != "" {
		args = append(args, "--dump-dir", cfg.DumpDir)
		if cfg.DumpWorkingSet {
			args = append(args, "--dump-ws")
		}
	}
	return args
}

// NewForTesting builds a VM around an already-connected stream, bypassing
// Spawn's hypervisor child entirely so other packages can drive a syscall
// session in tests without a real hypervisor binary on PATH.
func NewForTesting(conn net.Conn, cfg Config) *VM {
	return &VM{Config: cfg, conn: conn}
}

// SendFrame writes a length-prefixed frame to the guest connection.
func (v *VM) SendFrame(body []byte) error {
	return wire.WriteFrame(v.conn, body)
}

// RecvFrame reads one length-prefixed frame from the guest connection.
func (v *VM) RecvFrame() ([]byte, error) {
	return wire.ReadFrame(v.conn)
}

// SetDeadline bounds the next send/recv on the guest connection.
func (v *VM) SetDeadline(d time.Duration) error {
	return v.conn.SetDeadline(time.Now().Add(d))
}

// Close half-closes the guest socket and terminates the child process
// (spec.md section 4.4: "on drop, half-close the socket and terminate the
// child process").
func (v *VM) Close() error {
	var err error
	v.closeOnce.Do(func() {
		if uc, ok := v.conn.(*net.UnixConn); ok {
			_ = uc.CloseWrite()
		}
		err = v.conn.Close()
		if v.cmd != nil && v.cmd.Process != nil {
			_ = v.cmd.Process.Kill()
			_ = v.cmd.Wait()
		}
		_ = os.Remove(socketPath(v.Config.CID))
	})
	return err
}
