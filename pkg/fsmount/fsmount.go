package fsmount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"github.com/moby/sys/mountinfo"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

// Paths are the concrete device paths of the three filesystems. Where the
// boot filesystem lives depends on the topology, everything else always
// sits on a logical volume.
type Paths struct {
	Boot string
	Swap string
	Root string
}

// VolumePaths resolves the filesystem device paths for the topology.
func VolumePaths(t config.Topology, dev device.Device) Paths {
	p := Paths{
		Swap: cnst.LVPath(cnst.VolSwap),
		Root: cnst.LVPath(cnst.VolRoot),
	}
	if t == config.EncryptedBoot {
		p.Boot = cnst.LVPath(cnst.VolBoot)
	} else {
		p.Boot = dev.Partition(1)
	}
	return p
}

// Format creates the three filesystems with their fixed labels. The force
// flag on the root filesystem is safe, the target was just erased and
// created. Any failure here is fatal, there is no partial-mount fallback.
func Format(r utils.Runner, p Paths) error {
	cmds := []string{
		fmt.Sprintf("mkfs.vfat -F32 -n %s %s", cnst.BootLabel, p.Boot),
		fmt.Sprintf("mkswap -L %s %s", cnst.SwapLabel, p.Swap),
		fmt.Sprintf("mkfs.btrfs -f -L %s %s", cnst.RootLabel, p.Root),
	}
	for _, cmd := range cmds {
		if out, err := r.Run(cmd); err != nil {
			return fmt.Errorf("formatting failed: %s: %s: %w", cmd, strings.TrimSpace(out), err)
		}
	}
	utils.Log.Info().Str("boot", p.Boot).Str("swap", p.Swap).Str("root", p.Root).Msg("Filesystems created")
	return nil
}

// MountOperation is a single mount with its fstab entry.
type MountOperation struct {
	MountOption mount.Mount
	FstabEntry  fstab.Mount
	Target      string
}

// Run performs the mount unless the target is already mounted.
func (m MountOperation) Run() error {
	if err := utils.CreateIfNotExists(m.Target); err != nil {
		return err
	}
	mounted, err := mountinfo.Mounted(m.Target)
	if err != nil {
		return err
	}
	if mounted {
		utils.Log.Debug().Str("target", m.Target).Msg("Already mounted")
		return cnst.ErrAlreadyMounted
	}
	utils.Log.Debug().Str("what", m.MountOption.Source).Str("where", m.Target).Str("type", m.MountOption.Type).Msg("Mounting")
	return mount.All([]mount.Mount{m.MountOption}, m.Target)
}

// TreeOps returns the mount operations for the target tree, in order. Root
// first: the boot directory is created beneath the mounted root before the
// boot filesystem goes into it.
func TreeOps(rootdir string, p Paths) []MountOperation {
	rootMount := mount.Mount{Type: "btrfs", Source: p.Root, Options: []string{"rw"}}
	bootMount := mount.Mount{Type: "vfat", Source: p.Boot, Options: []string{"rw"}}

	rootOp := MountOperation{
		MountOption: rootMount,
		FstabEntry:  *mountToStab(rootMount, "/"),
		Target:      rootdir,
	}
	rootOp.FstabEntry.PassNo = 1

	bootOp := MountOperation{
		MountOption: bootMount,
		FstabEntry:  *mountToStab(bootMount, "/boot"),
		Target:      filepath.Join(rootdir, "boot"),
	}
	bootOp.FstabEntry.PassNo = 2

	return []MountOperation{rootOp, bootOp}
}

// ActivateSwap turns on the swap volume. Swap is not part of the mount
// tree, it is activated independently.
func ActivateSwap(r utils.Runner, swapPath string) error {
	if out, err := r.Run(fmt.Sprintf("swapon %s", swapPath)); err != nil {
		return fmt.Errorf("activating swap on %s: %s: %w", swapPath, strings.TrimSpace(out), err)
	}
	return nil
}

// SwapFstabEntry is the fstab line for the swap volume.
func SwapFstabEntry(spec string) *fstab.Mount {
	return &fstab.Mount{
		Spec:    spec,
		File:    "none",
		VfsType: "swap",
		MntOps:  map[string]string{"defaults": ""},
		Freq:    0,
		PassNo:  0,
	}
}

// WriteFstab writes the collected entries to etc/fstab under the mounted
// root.
func WriteFstab(rootdir string, entries []*fstab.Mount) error {
	if len(entries) == 0 {
		return nil
	}
	fstabFile := filepath.Join(rootdir, "etc", "fstab")
	if err := utils.CreateIfNotExists(filepath.Dir(fstabFile)); err != nil {
		return err
	}
	var sb strings.Builder
	for _, fst := range entries {
		utils.Log.Debug().Str("what", fst.String()).Msg("Adding line to fstab")
		sb.WriteString(fst.String())
		sb.WriteString("\n")
	}
	return os.WriteFile(fstabFile, []byte(sb.String()), 0644)
}

func mountToStab(m mount.Mount, file string) *fstab.Mount {
	opts := map[string]string{}
	for _, o := range m.Options {
		if strings.Contains(o, "=") {
			dat := strings.SplitN(o, "=", 2)
			opts[dat[0]] = dat[1]
		} else {
			opts[o] = ""
		}
	}
	return &fstab.Mount{
		Spec:    m.Source,
		File:    file,
		VfsType: m.Type,
		MntOps:  opts,
		Freq:    0,
		PassNo:  0,
	}
}
