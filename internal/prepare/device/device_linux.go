//go:build linux

// Package device bind-mounts an allow-list of host device nodes into
// the container root and creates the compatibility symlinks contained
// applications expect.
package device

import (
	"errors"

	"golang.org/x/sys/unix"

	"rootprep/internal/prepare/mount"
	pkgerrors "rootprep/pkg/errors"
)

// DefaultAllowList returns the fixed set of host device nodes exposed
// to the container.
func DefaultAllowList() []string {
	return []string{
		"/dev/null",
		"/dev/zero",
		"/dev/full",
		"/dev/random",
		"/dev/urandom",
		"/dev/tty",
		"/dev/net/tun",
		"/dev/console",
	}
}

// symlinkSpec describes one compatibility symlink, link relative to
// the root.
type symlinkSpec struct {
	target string
	link   string
}

func compatSymlinks() []symlinkSpec {
	return []symlinkSpec{
		{target: "/dev/pts/ptmx", link: "dev/ptmx"},
		{target: "/run/systemd/journal/dev-log", link: "dev/log"},
	}
}

// Provision bind-mounts each allow-listed host device node onto the
// matching path under root. A node absent on the host is skipped: the
// kernel may lack it (e.g. no TUN support) or the outer runtime may
// not expose it.
//
// Bind mounts are used instead of mknod because the host may expose a
// node backed by a pseudo-terminal, and pts nodes only work while they
// live on their devpts filesystem.
func Provision(m mount.Mounter, root string, allowList []string) error {
	for _, from := range allowList {
		if unix.Access(from, unix.F_OK) != nil {
			continue
		}
		to, err := mount.TargetPath(root, from)
		if err != nil {
			return err
		}
		// The mode does not matter: it will be bind-mounted over.
		// Creation failure must not block the mount attempt.
		if fd, err := unix.Open(to, unix.O_WRONLY|unix.O_CREAT|unix.O_CLOEXEC|unix.O_NOCTTY, 0644); err == nil {
			_ = unix.Close(fd)
		}
		if err := m.Mount(from, to, "bind", unix.MS_BIND, ""); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.DeviceFailed,
				"mounting %q on %q failed", from, to)
		}
	}
	return nil
}

// CompatSymlinks creates dev/ptmx and dev/log under root. An existing
// entry is left alone.
func CompatSymlinks(root string) error {
	for _, s := range compatSymlinks() {
		link, err := mount.TargetPath(root, s.link)
		if err != nil {
			return err
		}
		if err := unix.Symlink(s.target, link); err != nil && !errors.Is(err, unix.EEXIST) {
			return pkgerrors.Wrapf(err, pkgerrors.SymlinkFailed,
				"failed to create %q symlink", s.link)
		}
	}
	return nil
}
