package ident

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
	"github.com/archon-install/archon/pkg/partition"
)

// Set holds the persistent identifiers the boot configuration is derived
// from. Populated only after all filesystems exist.
type Set struct {
	CryptUUID string
	RootUUID  string
	SwapUUID  string
}

// Resolve discovers the UUIDs after formatting. The encrypted partition is
// looked up through the device naming resolver on whichever index carries
// the LVM role, never a hardcoded path. A missing crypt or root UUID means
// the system cannot be made bootable and is fatal; a missing swap UUID just
// drops resume support.
func Resolve(r utils.Runner, dev device.Device, t config.Topology) (Set, error) {
	var s Set

	cryptPart := dev.Partition(partition.LVMIndexFor(t))

	cryptUUID, err := blkidUUID(r, cryptPart)
	if err != nil {
		return s, fmt.Errorf("resolving encrypted partition UUID on %s: %w", cryptPart, err)
	}
	s.CryptUUID = cryptUUID

	rootUUID, err := blkidUUID(r, cnst.LVPath(cnst.VolRoot))
	if err != nil {
		return s, fmt.Errorf("resolving root volume UUID: %w", err)
	}
	s.RootUUID = rootUUID

	swapUUID, err := blkidUUID(r, cnst.LVPath(cnst.VolSwap))
	if err != nil {
		utils.Log.Warn().Err(err).Msg("No swap UUID found, continuing without resume support")
	} else {
		s.SwapUUID = swapUUID
	}

	utils.Log.Info().Str("crypt", s.CryptUUID).Str("root", s.RootUUID).Str("swap", s.SwapUUID).Msg("Identifiers resolved")
	return s, nil
}

func blkidUUID(r utils.Runner, devicePath string) (string, error) {
	out, err := r.Run(fmt.Sprintf("blkid -s UUID -o value %s", devicePath))
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(out)
	if value == "" {
		return "", fmt.Errorf("no UUID reported for %s", devicePath)
	}
	if _, err := uuid.FromString(value); err != nil {
		return "", fmt.Errorf("blkid reported %q for %s which is not a UUID: %w", value, devicePath, err)
	}
	return value, nil
}
