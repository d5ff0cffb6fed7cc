package lvm

import (
	"fmt"
	"strings"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
)

// Volume is one planned logical volume. An empty Size means "all remaining
// free extent".
type Volume struct {
	Name string
	Size string
}

// Volumes returns the logical volumes for the topology, in allocation
// order. volRoot is always last so it can claim the remaining extent.
func Volumes(t config.Topology, bootSize, swapSize string) []Volume {
	var vols []Volume
	if t == config.EncryptedBoot {
		vols = append(vols, Volume{Name: cnst.VolBoot, Size: bootSize})
	}
	vols = append(vols, Volume{Name: cnst.VolSwap, Size: swapSize})
	vols = append(vols, Volume{Name: cnst.VolRoot})
	return vols
}

// Setup initializes the physical volume on the opened container, creates
// the volume group and allocates the logical volumes contiguously in order.
func Setup(r utils.Runner, vols []Volume) error {
	mapper := cnst.MapperPath()
	if out, err := r.Run(fmt.Sprintf("pvcreate %s", mapper)); err != nil {
		return fmt.Errorf("pvcreate on %s: %s: %w", mapper, strings.TrimSpace(out), err)
	}
	if out, err := r.Run(fmt.Sprintf("vgcreate %s %s", cnst.VGName, mapper)); err != nil {
		return fmt.Errorf("vgcreate %s on %s: %s: %w", cnst.VGName, mapper, strings.TrimSpace(out), err)
	}

	for _, v := range vols {
		var cmd string
		if v.Size == "" {
			cmd = fmt.Sprintf("lvcreate --contiguous y -l 100%%FREE -n %s %s", v.Name, cnst.VGName)
		} else {
			cmd = fmt.Sprintf("lvcreate --contiguous y -L %s -n %s %s", v.Size, v.Name, cnst.VGName)
		}
		if out, err := r.Run(cmd); err != nil {
			return allocationError(r, v, strings.TrimSpace(out), err)
		}
		utils.Log.Info().Str("volume", v.Name).Str("size", sizeOrRest(v)).Msg("Logical volume created")
	}
	return nil
}

// allocationError reports a failed allocation with requested vs. available
// size, so a shortfall is diagnosable without re-running lvm by hand.
func allocationError(r utils.Runner, v Volume, out string, err error) error {
	free := "unknown"
	if vgsOut, vgsErr := r.Run(fmt.Sprintf("vgs --noheadings -o vg_free %s", cnst.VGName)); vgsErr == nil {
		free = strings.TrimSpace(vgsOut)
	}
	return fmt.Errorf("allocating %s: requested %s, %s free in %s: %s: %w",
		v.Name, sizeOrRest(v), free, cnst.VGName, out, err)
}

func sizeOrRest(v Volume) string {
	if v.Size == "" {
		return "100%FREE"
	}
	return v.Size
}
