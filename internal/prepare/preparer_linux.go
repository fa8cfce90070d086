//go:build linux

// Package prepare orchestrates container root preparation: root
// self-bind, filesystem skeleton, device provisioning, pseudo-
// filesystem mounts and compatibility symlinks, in that fixed order.
//
// Preparation is strictly sequential with no rollback: the first fatal
// error terminates the run and the caller discards or retries against
// a fresh image checkout.
package prepare

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"rootprep/internal/prepare/device"
	"rootprep/internal/prepare/mount"
	"rootprep/internal/prepare/probe"
	"rootprep/internal/prepare/skeleton"
	pkgerrors "rootprep/pkg/errors"
	"rootprep/pkg/utils/logger"
)

// State is the orchestrator's position in the preparation pipeline.
type State int

const (
	StateStart State = iota
	StateRooted
	StateSkeletonReady
	StateDevicesReady
	StateMounted
	StateSymlinked
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRooted:
		return "rooted"
	case StateSkeletonReady:
		return "skeleton-ready"
	case StateDevicesReady:
		return "devices-ready"
	case StateMounted:
		return "mounted"
	case StateSymlinked:
		return "symlinked"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the host source paths consulted during preparation.
// Zero values mean the standard host locations.
type Config struct {
	MachineIDPath   string
	UIDMapPath      string
	CgroupFSPath    string
	ResolvConfPath  string
	DeviceAllowList []string
}

const (
	defaultMachineIDPath  = "/etc/machine-id"
	defaultUIDMapPath     = "/proc/1/uid_map"
	defaultCgroupFSPath   = "/sys/fs/cgroup"
	defaultResolvConfPath = "/etc/rkt-resolv.conf"
)

func (c Config) withDefaults() Config {
	if c.MachineIDPath == "" {
		c.MachineIDPath = defaultMachineIDPath
	}
	if c.UIDMapPath == "" {
		c.UIDMapPath = defaultUIDMapPath
	}
	if c.CgroupFSPath == "" {
		c.CgroupFSPath = defaultCgroupFSPath
	}
	if c.ResolvConfPath == "" {
		c.ResolvConfPath = defaultResolvConfPath
	}
	if c.DeviceAllowList == nil {
		c.DeviceAllowList = device.DefaultAllowList()
	}
	return c
}

// Preparer runs the preparation pipeline against one container root.
// Not safe for concurrent use; exactly one pass per root.
type Preparer struct {
	cfg        Config
	mounter    mount.Mounter
	state      State
	checkpoint int
}

// New builds a Preparer. A nil mounter selects the real mount(2)
// implementation.
func New(cfg Config, m mount.Mounter) *Preparer {
	if m == nil {
		m = mount.UnixMounter{}
	}
	return &Preparer{cfg: cfg.withDefaults(), mounter: m, state: StateStart}
}

// State returns the pipeline position reached so far.
func (p *Preparer) State() State { return p.state }

// Checkpoint returns the number of fatal checkpoints encountered,
// including the failing one. Used as a coarse process exit status, not
// a stable code.
func (p *Preparer) Checkpoint() int { return p.checkpoint }

// Run executes the pipeline against root. The context carries log
// fields only; there is no cancellation, every operation is a blocking
// syscall.
func (p *Preparer) Run(ctx context.Context, root string) error {
	steps := []struct {
		next State
		fn   func(context.Context, string) error
	}{
		{StateRooted, p.rootStep},
		{StateSkeletonReady, p.skeletonStep},
		{StateDevicesReady, p.deviceStep},
		{StateMounted, p.mountStep},
		{StateSymlinked, p.symlinkStep},
	}
	for _, s := range steps {
		p.checkpoint++
		if err := s.fn(ctx, root); err != nil {
			p.state = StateFailed
			logger.Error(ctx, "preparation failed",
				zap.Stringer("state", s.next), zap.Error(err))
			return err
		}
		p.state = s.next
		logger.Debug(ctx, "state reached", zap.Stringer("state", p.state))
	}
	p.state = StateDone
	logger.Info(ctx, "container root prepared")
	return nil
}

// rootStep makes the root its own mount point.
func (p *Preparer) rootStep(_ context.Context, root string) error {
	return mount.RootSelfBind(p.mounter, root)
}

// skeletonStep holds the root directory descriptor for the whole
// skeleton phase and releases it exactly once; later phases address
// the tree by path because mount(2) targets are path strings.
func (p *Preparer) skeletonStep(_ context.Context, root string) error {
	rootFD, err := unix.Open(root, unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SkeletonFailed,
			"failed to open directory %q", root)
	}

	err = func() error {
		if err := skeleton.RemoveKnownSymlinks(rootFD, skeleton.DefaultUnlinkPaths()); err != nil {
			return err
		}
		// Requested modes apply verbatim, tmp needs 01777.
		unix.Umask(0)
		if err := skeleton.EnsureDirectories(rootFD, skeleton.DefaultDirs()); err != nil {
			return err
		}
		return skeleton.EnsureHostsFile(rootFD, p.cfg.MachineIDPath)
	}()

	cerr := unix.Close(rootFD)
	if err != nil {
		return err
	}
	if cerr != nil {
		return pkgerrors.Wrapf(cerr, pkgerrors.SkeletonFailed,
			"failed to close directory %q", root)
	}
	return nil
}

func (p *Preparer) deviceStep(_ context.Context, root string) error {
	return device.Provision(p.mounter, root, p.cfg.DeviceAllowList)
}

// mountStep applies the directory table, then the probed /sys
// strategy, then the file table.
func (p *Preparer) mountStep(ctx context.Context, root string) error {
	if err := mount.ApplyDirTable(p.mounter, root, mount.DirTable()); err != nil {
		return err
	}

	cg, err := probe.DetectCgroupVersion(p.cfg.CgroupFSPath)
	if err != nil {
		return err
	}
	var nesting probe.NestingState
	if cg.Version != probe.CgroupV2 {
		// Kernels without user-namespace support have no uid_map at
		// all; only an existing record is held to the strict parser.
		if unix.Access(p.cfg.UIDMapPath, unix.F_OK) == nil {
			nesting, err = probe.DetectNamespaceNesting(p.cfg.UIDMapPath)
			if err != nil {
				return err
			}
		}
	}
	logger.Info(ctx, "sys mount strategy selected",
		zap.Stringer("cgroup_version", cg.Version),
		zap.Bool("nested", nesting.Nested))
	if err := mount.Sys(p.mounter, root, cg, nesting); err != nil {
		return err
	}

	return mount.ApplyFileTable(p.mounter, root, mount.FileTable(p.cfg.ResolvConfPath))
}

func (p *Preparer) symlinkStep(_ context.Context, root string) error {
	return device.CompatSymlinks(root)
}
