//go:build linux

package prepare_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"rootprep/internal/prepare"
	pkgerrors "rootprep/pkg/errors"
)

type mountCall struct {
	source string
	target string
	fstype string
	flags  uintptr
}

type fakeMounter struct {
	calls []mountCall
}

func (f *fakeMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	f.calls = append(f.calls, mountCall{source, target, fstype, flags})
	return nil
}

type fixture struct {
	root     string
	cfg      prepare.Config
	devNull  string
	devZero  string
	resolv   string
	uidMap   string
	machine  string
	cgroupFS string
}

func newFixture(t *testing.T, uidMapContent string) *fixture {
	t.Helper()
	host := t.TempDir()

	f := &fixture{
		root:     t.TempDir(),
		devNull:  filepath.Join(host, "dev-null"),
		devZero:  filepath.Join(host, "dev-zero"),
		resolv:   filepath.Join(host, "resolv.conf"),
		uidMap:   filepath.Join(host, "uid_map"),
		machine:  filepath.Join(host, "machine-id"),
		cgroupFS: t.TempDir(),
	}
	for path, content := range map[string]string{
		f.devNull: "",
		f.devZero: "",
		f.resolv:  "nameserver 10.0.0.1\n",
		f.uidMap:  uidMapContent,
		f.machine: "0123456789abcdef0123456789abcdef\n",
	} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	f.cfg = prepare.Config{
		MachineIDPath:   f.machine,
		UIDMapPath:      f.uidMap,
		CgroupFSPath:    f.cgroupFS,
		ResolvConfPath:  f.resolv,
		DeviceAllowList: []string{f.devNull, f.devZero, filepath.Join(host, "dev-tun")},
	}
	return f
}

func sysCalls(calls []mountCall) []mountCall {
	var out []mountCall
	for _, c := range calls {
		if strings.HasSuffix(c.target, "/sys") || strings.Contains(c.target, "/sys/") {
			out = append(out, c)
		}
	}
	return out
}

func TestRunNestedNamespace(t *testing.T) {
	f := newFixture(t, "100000 100000 65536\n")
	m := &fakeMounter{}
	p := prepare.New(f.cfg, m)

	if err := p.Run(context.Background(), f.root); err != nil {
		t.Fatalf("run: %v", err)
	}
	if p.State() != prepare.StateDone {
		t.Fatalf("state %s, want done", p.State())
	}

	// Skeleton directories.
	for _, d := range []string{"dev", "dev/net", "dev/shm", "dev/pts", "etc", "proc", "sys", "tmp", "run/systemd/journal"} {
		info, err := os.Stat(filepath.Join(f.root, d))
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s missing: %v", d, err)
		}
	}

	// Synthesized hosts file.
	data, err := os.ReadFile(filepath.Join(f.root, "etc/hosts"))
	if err != nil {
		t.Fatalf("read hosts: %v", err)
	}
	want := "127.0.0.1\trkt-01234567-89ab-cdef-0123-456789ab\tlocalhost\tlocalhost.localdomain\n"
	if string(data) != want {
		t.Fatalf("hosts content %q", data)
	}

	// Compatibility symlinks.
	if link, err := os.Readlink(filepath.Join(f.root, "dev/ptmx")); err != nil || link != "/dev/pts/ptmx" {
		t.Fatalf("ptmx symlink %q: %v", link, err)
	}
	if link, err := os.Readlink(filepath.Join(f.root, "dev/log")); err != nil || link != "/run/systemd/journal/dev-log" {
		t.Fatalf("dev/log symlink %q: %v", link, err)
	}

	// Root self-bind first, then 2 devices (tun skipped), 4 directory
	// binds, 1 recursive /sys bind, 1 resolv.conf bind.
	if len(m.calls) != 9 {
		t.Fatalf("got %d mounts, want 9: %+v", len(m.calls), m.calls)
	}
	first := m.calls[0]
	if first.source != f.root || first.target != f.root || first.flags != unix.MS_BIND|unix.MS_REC {
		t.Fatalf("first mount is not the root self-bind: %+v", first)
	}
	sys := sysCalls(m.calls)
	if len(sys) != 1 || sys[0].flags != unix.MS_BIND|unix.MS_REC {
		t.Fatalf("nested run did not use one recursive /sys bind: %+v", sys)
	}
	last := m.calls[len(m.calls)-1]
	if last.source != f.resolv || last.target != filepath.Join(f.root, "etc/resolv.conf") {
		t.Fatalf("unexpected final mount %+v", last)
	}
}

func TestRunPerControllerStrategy(t *testing.T) {
	f := newFixture(t, "0 0 4294967295\n")
	// The real run materializes these via the /sys/fs/cgroup bind; with
	// a fake mounter they are laid out up front.
	for _, c := range []string{"cpu", "memory"} {
		if err := os.MkdirAll(filepath.Join(f.root, "sys/fs/cgroup", c), 0755); err != nil {
			t.Fatalf("mkdir controller: %v", err)
		}
	}

	m := &fakeMounter{}
	p := prepare.New(f.cfg, m)
	if err := p.Run(context.Background(), f.root); err != nil {
		t.Fatalf("run: %v", err)
	}

	sys := sysCalls(m.calls)
	if len(sys) != 4 {
		t.Fatalf("got %d /sys mounts, want sys + cgroup + 2 controllers: %+v", len(sys), sys)
	}
	for _, c := range sys {
		if c.flags != unix.MS_BIND {
			t.Fatalf("per-controller strategy used recursive bind: %+v", c)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	f := newFixture(t, "100000 100000 65536\n")

	for i := 0; i < 2; i++ {
		p := prepare.New(f.cfg, &fakeMounter{})
		if err := p.Run(context.Background(), f.root); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		if p.State() != prepare.StateDone {
			t.Fatalf("run %d state %s", i+1, p.State())
		}
	}
}

func TestRunMissingMachineID(t *testing.T) {
	f := newFixture(t, "0 0 4294967295\n")
	f.cfg.MachineIDPath = filepath.Join(t.TempDir(), "absent")

	p := prepare.New(f.cfg, &fakeMounter{})
	err := p.Run(context.Background(), f.root)
	if err == nil {
		t.Fatal("missing machine-id accepted")
	}
	if !pkgerrors.Is(err, pkgerrors.MachineIDFailed) {
		t.Fatalf("unexpected error code: %v", err)
	}
	if p.State() != prepare.StateFailed {
		t.Fatalf("state %s, want failed", p.State())
	}
	if p.Checkpoint() != 2 {
		t.Fatalf("checkpoint %d, want 2 (skeleton step)", p.Checkpoint())
	}
}

func TestRunMalformedUIDMapIsFatal(t *testing.T) {
	f := newFixture(t, "0 0\n")

	p := prepare.New(f.cfg, &fakeMounter{})
	err := p.Run(context.Background(), f.root)
	if err == nil {
		t.Fatal("malformed uid_map accepted")
	}
	if !pkgerrors.Is(err, pkgerrors.UIDMapMalformed) {
		t.Fatalf("unexpected error code: %v", err)
	}
	if p.Checkpoint() != 4 {
		t.Fatalf("checkpoint %d, want 4 (mount step)", p.Checkpoint())
	}
}
