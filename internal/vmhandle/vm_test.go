package vmhandle

import "testing"

func TestValidateRejectsLoadAndDumpTogether(t *testing.T) {
	cfg := Config{LoadDir: "/snap/load", DumpDir: "/snap/dump"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for simultaneous load_dir/dump_dir")
	}
}

func TestValidateRejectsDumpWorkingSetWithoutDumpDir(t *testing.T) {
	cfg := Config{DumpWorkingSet: true}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for dump_ws without dump_dir")
	}
}

func TestValidateAcceptsLoadOnly(t *testing.T) {
	cfg := Config{LoadDir: "/snap/load", LoadWorkingSet: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildArgsIncludesOptionalFields(t *testing.T) {
	cfg := Config{
		ID:         "vm-1",
		Kernel:     "vmlinux",
		KernelArgs: "console=ttyS0",
		Rootfs:     "rootfs.ext4",
		Appfs:      "app.ext4",
		MemoryMiB:  128,
		VCPUs:      1,
		CID:        3,
		TapDevice:  "tap0",
		MAC:        "AA:BB:CC:DD:00:01",
	}
	args := buildArgs(cfg, "/tmp/sock")
	want := map[string]bool{
		"--kernel-args": false,
		"--appfs":       false,
		"--tap":         false,
	}
	for _, a := range args {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for flag, found := range want {
		if !found {
			t.Fatalf("buildArgs missing flag %q in %v", flag, args)
		}
	}
}

func TestSocketPathIsStablePerCID(t *testing.T) {
	if socketPath(7) != socketPath(7) {
		t.Fatalf("socketPath not stable for the same CID")
	}
	if socketPath(7) == socketPath(8) {
		t.Fatalf("socketPath collided across distinct CIDs")
	}
}
