package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10099: Generic & usage errors
// 10100-10199: Host probe errors
// 10200-10299: Filesystem skeleton errors
// 10300-10399: Device & symlink errors
// 10400-10499: Mount errors

const (
	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError ErrorCode = 10001
	InvalidUsage  ErrorCode = 10002
	PathTooLong   ErrorCode = 10003

	// Host probe errors (10100-10199)
	ProbeFailed     ErrorCode = 10100
	UIDMapMalformed ErrorCode = 10101

	// Filesystem skeleton errors (10200-10299)
	SkeletonFailed  ErrorCode = 10200
	HostsFileFailed ErrorCode = 10201
	MachineIDFailed ErrorCode = 10202

	// Device & symlink errors (10300-10399)
	DeviceFailed  ErrorCode = 10300
	SymlinkFailed ErrorCode = 10301

	// Mount errors (10400-10499)
	MountFailed     ErrorCode = 10400
	RootMountFailed ErrorCode = 10401
	SysMountFailed  ErrorCode = 10402
)

var codeMessages = map[ErrorCode]string{
	Success:         "success",
	InternalError:   "internal error",
	InvalidUsage:    "invalid usage",
	PathTooLong:     "path too long",
	ProbeFailed:     "host probe failed",
	UIDMapMalformed: "uid_map record malformed",
	SkeletonFailed:  "filesystem skeleton setup failed",
	HostsFileFailed: "hosts file synthesis failed",
	MachineIDFailed: "machine identity unavailable",
	DeviceFailed:    "device provisioning failed",
	SymlinkFailed:   "symlink creation failed",
	MountFailed:     "mount failed",
	RootMountFailed: "root self-bind mount failed",
	SysMountFailed:  "sysfs mount strategy failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}
