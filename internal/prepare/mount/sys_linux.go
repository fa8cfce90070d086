//go:build linux

package mount

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"rootprep/internal/prepare/probe"
	pkgerrors "rootprep/pkg/errors"
)

const cgroupMountDir = "sys/fs/cgroup"

// Sys bind-mounts /sys into the root, choosing the strategy from the
// probed host state.
//
// On the unified hierarchy a recursive bind mount is fine. The same
// holds when we run nested inside an outer user namespace: the kernel
// refuses a non-recursive bind that would grant write access beneath a
// read-only descendant mount, which nested namespaces commonly impose.
//
// On cgroup-v1 outside a nested namespace, supervisors layer extra
// read-only cgroup bind mounts on top of /sys; recursively re-mounting
// those grows the mount table quadratically across container
// generations. Instead /sys and /sys/fs/cgroup are bound
// non-recursively and each controller directory is bound individually.
func Sys(m Mounter, root string, cg probe.CgroupState, nesting probe.NestingState) error {
	recursive := Spec{Source: "/sys", Target: "sys", FSType: "bind", Flags: unix.MS_BIND | unix.MS_REC}

	if cg.Version == probe.CgroupV2 || nesting.Nested {
		return At(m, root, recursive)
	}

	table := []Spec{
		{Source: "/sys", Target: "sys", FSType: "bind", Flags: unix.MS_BIND},
		{Source: "/" + cgroupMountDir, Target: cgroupMountDir, FSType: "bind", Flags: unix.MS_BIND},
	}
	for _, spec := range table {
		if err := At(m, root, spec); err != nil {
			return err
		}
	}
	return bindControllers(m, root)
}

// bindControllers enumerates the immediate subdirectories of the
// root's cgroup mount and binds each controller individually.
// Non-directory entries are skipped, symlinked controllers included.
func bindControllers(m Mounter, root string) error {
	dir, err := TargetPath(root, cgroupMountDir)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SysMountFailed,
			"failed to read directory %q", dir)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rel := filepath.Join(cgroupMountDir, entry.Name())
		spec := Spec{Source: "/" + rel, Target: rel, FSType: "bind", Flags: unix.MS_BIND}
		if err := At(m, root, spec); err != nil {
			return err
		}
	}
	return nil
}
