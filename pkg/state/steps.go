package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/bootcfg"
	"github.com/archon-install/archon/pkg/device"
	"github.com/archon-install/archon/pkg/fsmount"
	"github.com/archon-install/archon/pkg/ident"
	"github.com/archon-install/archon/pkg/luks"
	"github.com/archon-install/archon/pkg/lvm"
	"github.com/archon-install/archon/pkg/partition"
	"github.com/archon-install/archon/pkg/sysconfig"
)

func sysconfigFor(s *State) sysconfig.System {
	return sysconfig.System{Rootdir: s.Rootdir, RunChroot: s.ChrootRun}
}

// Register adds the whole provisioning pipeline to the graph. Every op
// depends on the previous one: the stages are destructive and strictly
// ordered, nothing here may run in parallel.
func (s *State) Register(g *herd.Graph) error {
	c := s.Config
	parts := partition.Plan(c.Topology, c.BootSize)
	cryptPart := c.Device.Partition(partition.LVMIndex(parts))
	paths := fsmount.VolumePaths(c.Topology, c.Device)

	steps := []struct {
		name     string
		callback func(context.Context) error
	}{
		{cnst.OpLoadDrivers, func(_ context.Context) error {
			device.LoadStorageDrivers(s.Runner)
			return nil
		}},
		{cnst.OpEraseDisk, func(_ context.Context) error {
			ok, err := s.Input.ConfirmErase(c.Device.Path)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("erasure of %s not confirmed, aborting before any destructive step", c.Device.Path)
			}
			return s.Erase(c.Device.Path, c.Erase)
		}},
		{cnst.OpPartition, func(_ context.Context) error {
			return partition.Apply(s.Runner, c.Device, parts)
		}},
		{cnst.OpCipherCheck, func(_ context.Context) error {
			luks.CheckCipher(s.Runner)
			return nil
		}},
		{cnst.OpLuksFormat, func(_ context.Context) error {
			return luks.Format(s.Runner, cryptPart)
		}},
		{cnst.OpLuksOpen, func(_ context.Context) error {
			return luks.Open(s.Runner, cryptPart)
		}},
		{cnst.OpLvmSetup, func(_ context.Context) error {
			return lvm.Setup(s.Runner, lvm.Volumes(c.Topology, c.BootSize, c.SwapSize))
		}},
		{cnst.OpFormatVols, func(_ context.Context) error {
			return fsmount.Format(s.Runner, paths)
		}},
		{cnst.OpMountTree, s.mountTree(paths)},
		{cnst.OpInstallBase, func(_ context.Context) error {
			return s.Installer.InstallBase(s.Rootdir)
		}},
		{cnst.OpResolveIDs, func(_ context.Context) error {
			ids, err := ident.Resolve(s.Runner, c.Device, c.Topology)
			if err != nil {
				return err
			}
			s.ids = ids
			return nil
		}},
		{cnst.OpWriteFstab, func(_ context.Context) error {
			swapSpec := paths.Swap
			if s.ids.SwapUUID != "" {
				swapSpec = fmt.Sprintf("UUID=%s", s.ids.SwapUUID)
			}
			s.AddToFstab(fsmount.SwapFstabEntry(swapSpec))
			return fsmount.WriteFstab(s.Rootdir, s.fstabs)
		}},
		{cnst.OpWriteHandoff, func(_ context.Context) error {
			return s.WriteHandoff()
		}},
		{cnst.OpSysConfig, func(_ context.Context) error {
			system := sysconfigFor(s)
			return system.Apply(c, s.Input.Password)
		}},
		{cnst.OpBootloader, func(_ context.Context) error {
			fw, err := s.Input.ConfirmFirmware(bootcfg.Detect())
			if err != nil {
				return err
			}
			s.firmware = fw
			if err := bootcfg.WriteGrubDefault(s.Rootdir, s.ids, c.Topology); err != nil {
				return err
			}
			return bootcfg.Install(s.ChrootRun, fw, c.Device.Path, s.Rootdir)
		}},
	}

	previous := ""
	for _, step := range steps {
		opts := []herd.OpOption{herd.WithCallback(step.callback)}
		if previous != "" {
			opts = append(opts, herd.WithDeps(previous))
		}
		if err := s.addLogged(g, step.name, opts...); err != nil {
			return err
		}
		previous = step.name
	}
	return nil
}

// mountTree mounts root, then boot beneath it, and activates swap. An
// already-mounted target is tolerated, anything else aborts.
func (s *State) mountTree(paths fsmount.Paths) func(context.Context) error {
	return func(_ context.Context) error {
		var merr *multierror.Error
		for _, op := range fsmount.TreeOps(s.Rootdir, paths) {
			err := s.Mount(op)
			if err != nil && !errors.Is(err, cnst.ErrAlreadyMounted) {
				merr = multierror.Append(merr, err)
				break
			}
			entry := op.FstabEntry
			s.AddToFstab(&entry)
		}
		if err := merr.ErrorOrNil(); err != nil {
			return err
		}
		return fsmount.ActivateSwap(s.Runner, paths.Swap)
	}
}

func (s *State) addLogged(g *herd.Graph, name string, opts ...herd.OpOption) error {
	err := g.Add(name, opts...)
	if err != nil {
		utils.Log.Err(err).Str("op", name).Msg("Adding op to graph")
	}
	return err
}
