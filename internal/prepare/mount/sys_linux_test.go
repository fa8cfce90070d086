//go:build linux

package mount

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"rootprep/internal/prepare/probe"
)

func TestSysUnifiedHierarchy(t *testing.T) {
	m := &fakeMounter{}
	err := Sys(m, "/var/lib/c1", probe.CgroupState{Version: probe.CgroupV2}, probe.NestingState{})
	if err != nil {
		t.Fatalf("sys: %v", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("got %d mounts, want a single recursive bind", len(m.calls))
	}
	c := m.calls[0]
	if c.source != "/sys" || c.target != "/var/lib/c1/sys" || c.flags != unix.MS_BIND|unix.MS_REC {
		t.Fatalf("unexpected mount %+v", c)
	}
}

func TestSysNestedNamespace(t *testing.T) {
	m := &fakeMounter{}
	err := Sys(m, "/var/lib/c1", probe.CgroupState{Version: probe.CgroupV1}, probe.NestingState{Nested: true})
	if err != nil {
		t.Fatalf("sys: %v", err)
	}
	if len(m.calls) != 1 || m.calls[0].flags != unix.MS_BIND|unix.MS_REC {
		t.Fatalf("nested namespace did not force a recursive bind: %+v", m.calls)
	}
}

func TestSysPerControllerBinds(t *testing.T) {
	root := t.TempDir()
	cgroupDir := filepath.Join(root, "sys/fs/cgroup")
	if err := os.MkdirAll(cgroupDir, 0755); err != nil {
		t.Fatalf("mkdir cgroup dir: %v", err)
	}
	controllers := []string{"cpu", "cpuset", "memory"}
	for _, c := range controllers {
		if err := os.Mkdir(filepath.Join(cgroupDir, c), 0755); err != nil {
			t.Fatalf("mkdir controller %s: %v", c, err)
		}
	}
	// Non-directory entries are skipped, symlinked controllers included.
	if err := os.WriteFile(filepath.Join(cgroupDir, "cgroup.procs"), nil, 0644); err != nil {
		t.Fatalf("write file entry: %v", err)
	}
	if err := os.Symlink("cpu", filepath.Join(cgroupDir, "cpuacct")); err != nil {
		t.Fatalf("symlink controller: %v", err)
	}

	m := &fakeMounter{}
	err := Sys(m, root, probe.CgroupState{Version: probe.CgroupV1}, probe.NestingState{})
	if err != nil {
		t.Fatalf("sys: %v", err)
	}

	want := 2 + len(controllers)
	if len(m.calls) != want {
		t.Fatalf("got %d mounts, want %d: %+v", len(m.calls), want, m.calls)
	}
	if m.calls[0].target != filepath.Join(root, "sys") || m.calls[0].flags != unix.MS_BIND {
		t.Fatalf("unexpected sys mount %+v", m.calls[0])
	}
	if m.calls[1].target != cgroupDir || m.calls[1].flags != unix.MS_BIND {
		t.Fatalf("unexpected cgroup mount %+v", m.calls[1])
	}
	seen := map[string]bool{}
	for _, c := range m.calls[2:] {
		if c.flags != unix.MS_BIND {
			t.Fatalf("controller mount %+v not a plain bind", c)
		}
		seen[filepath.Base(c.target)] = true
	}
	for _, c := range controllers {
		if !seen[c] {
			t.Fatalf("controller %s not mounted: %+v", c, m.calls)
		}
	}
}

func TestSysPerControllerMissingCgroupDir(t *testing.T) {
	m := &fakeMounter{}
	err := Sys(m, t.TempDir(), probe.CgroupState{Version: probe.CgroupV1}, probe.NestingState{})
	if err == nil {
		t.Fatal("missing cgroup directory accepted")
	}
}
