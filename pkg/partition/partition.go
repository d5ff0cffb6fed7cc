package partition

import (
	"fmt"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"golang.org/x/sys/unix"

	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

// Role is what a partition is for.
type Role int

const (
	// RoleBoot holds the unencrypted boot filesystem.
	RoleBoot Role = iota
	// RoleLVM holds the LUKS container the volume group lives in.
	RoleLVM
)

// Partition is one entry of the planned layout.
type Partition struct {
	Index  int
	Role   Role
	FSHint string
	Flags  []string
	Start  string
	End    string
}

// Plan emits the partition layout for the topology. Pure: no device access.
func Plan(t config.Topology, bootSize string) []Partition {
	if t == config.EncryptedBoot {
		// Single LVM partition spanning the disk, /boot lives inside
		// the container.
		return []Partition{
			{Index: 1, Role: RoleLVM, Flags: []string{"boot", "lvm"}, Start: "0%", End: "100%"},
		}
	}
	boot := partedSize(bootSize)
	return []Partition{
		{Index: 1, Role: RoleBoot, FSHint: "fat32", Flags: []string{"boot", "esp"}, Start: "0%", End: boot},
		{Index: 2, Role: RoleLVM, Flags: []string{"lvm"}, Start: boot, End: "100%"},
	}
}

// LVMIndex returns the index of the partition carrying the LVM role.
func LVMIndex(parts []Partition) int {
	for _, p := range parts {
		if p.Role == RoleLVM {
			return p.Index
		}
	}
	return 1
}

// LVMIndexFor returns which partition index carries the LVM role under the
// topology: the single spanning partition, or the second one after the
// plain boot partition.
func LVMIndexFor(t config.Topology) int {
	if t == config.EncryptedBoot {
		return 1
	}
	return 2
}

// partedSize maps a normalized G/M/K size spec onto the binary units parted
// understands.
func partedSize(s string) string {
	switch {
	case strings.HasSuffix(s, "G"):
		return strings.TrimSuffix(s, "G") + "GiB"
	case strings.HasSuffix(s, "M"):
		return strings.TrimSuffix(s, "M") + "MiB"
	case strings.HasSuffix(s, "K"):
		return strings.TrimSuffix(s, "K") + "KiB"
	}
	return s
}

// Apply writes a fresh GPT label and the planned partitions to the device,
// verifies alignment, then asks the kernel to re-read the table and waits
// for the new device nodes to settle. The table type is always GPT, the
// downstream tools key off it.
func Apply(r utils.Runner, dev device.Device, parts []Partition) error {
	if _, err := r.Run(fmt.Sprintf("parted --script --align optimal %s mklabel gpt", dev.Path)); err != nil {
		return fmt.Errorf("writing GPT label to %s: %w", dev.Path, err)
	}

	for _, p := range parts {
		mkpart := fmt.Sprintf("parted --script --align optimal %s mkpart primary", dev.Path)
		if p.FSHint != "" {
			mkpart = fmt.Sprintf("%s %s", mkpart, p.FSHint)
		}
		mkpart = fmt.Sprintf("%s %s %s", mkpart, p.Start, p.End)
		if _, err := r.Run(mkpart); err != nil {
			return fmt.Errorf("creating partition %d on %s: %w", p.Index, dev.Path, err)
		}
		for _, flag := range p.Flags {
			if _, err := r.Run(fmt.Sprintf("parted --script %s set %d %s on", dev.Path, p.Index, flag)); err != nil {
				return fmt.Errorf("setting %s flag on partition %d: %w", flag, p.Index, err)
			}
		}
	}

	// A misaligned partition is a configuration error, never silently
	// accepted.
	for _, p := range parts {
		out, err := r.Run(fmt.Sprintf("parted --script %s align-check opt %d", dev.Path, p.Index))
		if err != nil || strings.Contains(out, "not aligned") {
			return fmt.Errorf("partition %d on %s is not optimally aligned: %s", p.Index, dev.Path, strings.TrimSpace(out))
		}
	}

	unix.Sync()

	return settle(r, dev, parts)
}

// settle re-reads the partition table and waits for every planned partition
// node to appear. Proceeding before this resolves is a race that shows up
// as spurious "partition not found" failures in the encryption stage.
func settle(r utils.Runner, dev device.Device, parts []Partition) error {
	if out, err := r.Run(fmt.Sprintf("partprobe %s", dev.Path)); err != nil {
		utils.Log.Warn().Err(err).Str("out", out).Msg("partprobe")
	}
	if out, err := r.Run("udevadm settle"); err != nil {
		utils.Log.Warn().Err(err).Str("out", out).Msg("udevadm settle")
	}

	for _, p := range parts {
		node := dev.Partition(p.Index)
		err := retry.Do(
			func() error {
				_, err := r.Run(fmt.Sprintf("test -b %s", node))
				return err
			},
			retry.Attempts(10),
			retry.Delay(500*time.Millisecond),
			retry.DelayType(retry.FixedDelay),
		)
		if err != nil {
			return fmt.Errorf("partition node %s never appeared: %w", node, err)
		}
		utils.Log.Debug().Str("node", node).Msg("Partition node present")
	}
	return nil
}
