// Package probe inspects the host environment the container root is
// prepared on: which cgroup hierarchy generation the kernel exposes and
// whether this runtime itself lives inside an outer user namespace.
// Both answers decide how /sys may be bind-mounted into the container.
package probe

import (
	"strconv"
	"strings"

	pkgerrors "rootprep/pkg/errors"
)

// CgroupVersion identifies the generation of the host cgroup hierarchy.
type CgroupVersion int

const (
	CgroupV1 CgroupVersion = iota + 1
	CgroupV2
)

func (v CgroupVersion) String() string {
	switch v {
	case CgroupV1:
		return "v1"
	case CgroupV2:
		return "v2"
	default:
		return "unknown"
	}
}

// CgroupState is the probed cgroup hierarchy state, derived once per run.
type CgroupState struct {
	Version CgroupVersion
}

// NestingState reports whether the runtime runs inside an outer user
// namespace, derived once per run from the init process uid_map record.
type NestingState struct {
	Nested bool
}

// unmappedID is the kernel sentinel for "no range", see user_namespaces(7).
const unmappedID = 0xFFFFFFFF

// uidMapping is the first mapping record of a user namespace.
type uidMapping struct {
	base  uint32
	shift uint32
	span  uint32
}

// identity reports whether the mapping is the default top-level one.
// Any deviation means an enclosing namespace has remapped ownership.
func (m uidMapping) identity() bool {
	return m.base == 0 && m.shift == 0 && m.span == unmappedID
}

// parseUIDMap parses the first three unsigned integers of a uid_map
// record. Fewer than three fields, or fields that do not parse, are
// fatal: misclassifying nesting would make an insecure /sys mount form
// look safe, so malformed input must never default to "non-nested".
func parseUIDMap(data []byte) (uidMapping, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return uidMapping{}, pkgerrors.Newf(pkgerrors.UIDMapMalformed,
			"uid_map has %d fields, want at least 3", len(fields))
	}

	var vals [3]uint32
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 32)
		if err != nil {
			return uidMapping{}, pkgerrors.Wrapf(err, pkgerrors.UIDMapMalformed,
				"uid_map field %d is not an unsigned integer", i)
		}
		vals[i] = uint32(v)
	}

	return uidMapping{base: vals[0], shift: vals[1], span: vals[2]}, nil
}
