//go:build linux

package probe

import (
	"os"

	"golang.org/x/sys/unix"

	pkgerrors "rootprep/pkg/errors"
)

// DetectCgroupVersion stats the cgroup mount and decides the hierarchy
// version purely by its filesystem magic number. No fallback heuristics.
func DetectCgroupVersion(cgroupFSPath string) (CgroupState, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(cgroupFSPath, &fs); err != nil {
		return CgroupState{}, pkgerrors.Wrapf(err, pkgerrors.ProbeFailed,
			"cannot statfs %q", cgroupFSPath)
	}
	if fs.Type == unix.CGROUP2_SUPER_MAGIC {
		return CgroupState{Version: CgroupV2}, nil
	}
	return CgroupState{Version: CgroupV1}, nil
}

// DetectNamespaceNesting reads the init process uid_map record and
// reports nesting when the mapping deviates from the identity one.
// A missing, unreadable or malformed record is fatal; the caller is
// expected to probe for the file's existence first on kernels without
// user-namespace support.
func DetectNamespaceNesting(uidMapPath string) (NestingState, error) {
	data, err := os.ReadFile(uidMapPath)
	if err != nil {
		return NestingState{}, pkgerrors.Wrapf(err, pkgerrors.ProbeFailed,
			"cannot read %q", uidMapPath)
	}
	m, err := parseUIDMap(data)
	if err != nil {
		return NestingState{}, err
	}
	return NestingState{Nested: !m.identity()}, nil
}
