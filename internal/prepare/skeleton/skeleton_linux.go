//go:build linux

// Package skeleton builds the minimal directory and file layout inside
// the container root: required directories, removal of dangling
// symlinks shipped by some images, and a synthesized etc/hosts.
//
// All operations address the tree relative to an open root directory
// descriptor, so they cannot escape the container root.
package skeleton

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	pkgerrors "rootprep/pkg/errors"
)

// DirSpec describes one directory to create relative to the root.
type DirSpec struct {
	Path string
	Mode uint32
}

// DefaultDirs returns the fixed directory table. Order matters: parents
// precede children. The caller clears the umask first so tmp really
// gets 01777.
func DefaultDirs() []DirSpec {
	return []DirSpec{
		{Path: "dev", Mode: 0755},
		{Path: "dev/net", Mode: 0755},
		{Path: "dev/shm", Mode: 0755},
		{Path: "etc", Mode: 0755},
		{Path: "proc", Mode: 0755},
		{Path: "sys", Mode: 0755},
		{Path: "tmp", Mode: 0o1777},
		{Path: "dev/pts", Mode: 0755},
		{Path: "run", Mode: 0755},
		{Path: "run/systemd", Mode: 0755},
		{Path: "run/systemd/journal", Mode: 0755},
	}
}

// DefaultUnlinkPaths lists paths removed before directory creation.
// Some images ship these as symlinks that dangle after the chroot,
// e.g. dev/shm -> /run/shm.
func DefaultUnlinkPaths() []string {
	return []string{"dev/shm", "dev/ptmx"}
}

// EnsureDirectories creates each directory relative to rootFD with the
// requested mode. A pre-existing entry is fine; anything else is fatal.
func EnsureDirectories(rootFD int, dirs []DirSpec) error {
	for _, d := range dirs {
		if err := unix.Mkdirat(rootFD, d.Path, d.Mode); err != nil && !errors.Is(err, unix.EEXIST) {
			return pkgerrors.Wrapf(err, pkgerrors.SkeletonFailed,
				"failed to create directory %q", d.Path)
		}
	}
	return nil
}

// RemoveKnownSymlinks unlinks each path relative to rootFD. A missing
// path or a real directory means there is nothing to fix.
func RemoveKnownSymlinks(rootFD int, paths []string) error {
	for _, p := range paths {
		err := unix.Unlinkat(rootFD, p, 0)
		if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EISDIR) {
			continue
		}
		return pkgerrors.Wrapf(err, pkgerrors.SkeletonFailed,
			"failed to unlink %q", p)
	}
	return nil
}

// EnsureHostsFile writes a synthesized etc/hosts under rootFD unless
// one already exists. The machine name is derived from the host
// machine-id file.
func EnsureHostsFile(rootFD int, machineIDPath string) error {
	if err := unix.Faccessat(rootFD, "etc/hosts", unix.F_OK, unix.AT_EACCESS); err == nil {
		return nil
	}

	machineID, err := os.ReadFile(machineIDPath)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.MachineIDFailed,
			"cannot read %q", machineIDPath)
	}
	name, err := machineName(machineID)
	if err != nil {
		return err
	}
	line, err := hostsLine(name)
	if err != nil {
		return err
	}

	fd, err := unix.Openat(rootFD, "etc/hosts", unix.O_WRONLY|unix.O_CREAT|unix.O_CLOEXEC, 0644)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.HostsFileFailed)
	}
	n, err := unix.Write(fd, []byte(line))
	if err != nil {
		_ = unix.Close(fd)
		return pkgerrors.Wrap(err, pkgerrors.HostsFileFailed)
	}
	if n != len(line) {
		_ = unix.Close(fd)
		return pkgerrors.Newf(pkgerrors.HostsFileFailed,
			"short write to etc/hosts: %d of %d bytes", n, len(line))
	}
	if err := unix.Close(fd); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.HostsFileFailed)
	}
	return nil
}
