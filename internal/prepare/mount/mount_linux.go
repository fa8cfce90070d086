//go:build linux

// Package mount declares the static bind-mount tables applied to a
// container root and the cgroup-aware /sys mounting strategy. Specs
// are immutable: tables are built once and applied in order.
package mount

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	pkgerrors "rootprep/pkg/errors"
)

// Mounter performs mount(2). Tests substitute a recording fake.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
}

// UnixMounter is the real mount(2) implementation.
type UnixMounter struct{}

func (UnixMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

// Spec describes one bind mount. Target is relative to the container
// root.
type Spec struct {
	Source  string
	Target  string
	FSType  string
	Options string
	Flags   uintptr
}

// DirTable is the fixed table of pseudo-filesystem directory bind
// mounts. /sys is handled separately by Sys.
func DirTable() []Spec {
	return []Spec{
		{Source: "/proc", Target: "proc", FSType: "bind", Flags: unix.MS_BIND | unix.MS_REC},
		{Source: "/dev/shm", Target: "dev/shm", FSType: "bind", Flags: unix.MS_BIND},
		{Source: "/dev/pts", Target: "dev/pts", FSType: "bind", Flags: unix.MS_BIND},
		{Source: "/run/systemd/journal", Target: "run/systemd/journal", FSType: "bind", Flags: unix.MS_BIND},
	}
}

// FileTable is the fixed table of individual file bind mounts. Entries
// whose source is absent on the host are skipped entirely.
func FileTable(resolvConfSource string) []Spec {
	return []Spec{
		{Source: resolvConfSource, Target: "etc/resolv.conf", FSType: "bind", Flags: unix.MS_BIND},
	}
}

// TargetPath joins a root-relative target under root, bounds-checked
// against the kernel path limit. Join cleans the path, so every target
// resolves inside the root.
func TargetPath(root, target string) (string, error) {
	p := filepath.Join(root, target)
	if len(p) >= unix.PathMax {
		return "", pkgerrors.Newf(pkgerrors.PathTooLong, "path too long: %q", p)
	}
	return p, nil
}

// At applies one spec under root.
func At(m Mounter, root string, spec Spec) error {
	to, err := TargetPath(root, spec.Target)
	if err != nil {
		return err
	}
	if err := m.Mount(spec.Source, to, spec.FSType, spec.Flags, spec.Options); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.MountFailed,
			"mounting %q on %q failed", spec.Source, to)
	}
	return nil
}

// ApplyDirTable applies the specs in order; first failure is fatal.
func ApplyDirTable(m Mounter, root string, table []Spec) error {
	for _, spec := range table {
		if err := At(m, root, spec); err != nil {
			return err
		}
	}
	return nil
}

// ApplyFileTable bind-mounts individual files. A spec is skipped when
// the host source does not exist; the target is created as an empty
// file when missing.
func ApplyFileTable(m Mounter, root string, table []Spec) error {
	for _, spec := range table {
		if unix.Access(spec.Source, unix.F_OK) != nil {
			continue
		}
		to, err := TargetPath(root, spec.Target)
		if err != nil {
			return err
		}
		if unix.Access(to, unix.F_OK) != nil {
			fd, err := unix.Open(to, unix.O_WRONLY|unix.O_CREAT|unix.O_CLOEXEC, 0644)
			if err != nil {
				return pkgerrors.Wrapf(err, pkgerrors.MountFailed,
					"cannot create file %q", to)
			}
			if err := unix.Close(fd); err != nil {
				return pkgerrors.Wrapf(err, pkgerrors.MountFailed,
					"cannot close file %q", to)
			}
		}
		if err := m.Mount(spec.Source, to, spec.FSType, spec.Flags, spec.Options); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.MountFailed,
				"mounting %q on %q failed", spec.Source, to)
		}
	}
	return nil
}

// RootSelfBind makes root its own mount point, recursively so volumes
// pre-mounted by the outer launcher are preserved. Without this the
// contained process could not later remount "/" private without
// touching the host.
func RootSelfBind(m Mounter, root string) error {
	if err := m.Mount(root, root, "bind", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.RootMountFailed)
	}
	return nil
}
