package state

import (
	"fmt"
	"strings"

	"github.com/archon-install/archon/internal/utils"
)

// Installer copies the base system into the mounted root. It is a
// collaborator of the provisioning core: the core hands over the mounted
// tree and regains control once the packages are in place.
type Installer interface {
	InstallBase(rootdir string) error
}

// basePackages is everything the provisioned layout needs to boot: lvm2
// and cryptsetup for the initramfs hooks, grub and efibootmgr for the
// bootloader stage, btrfs-progs for the root filesystem.
const basePackages = "base linux linux-firmware mkinitcpio lvm2 cryptsetup btrfs-progs grub efibootmgr networkmanager sudo"

// Pacstrap is the default Installer.
type Pacstrap struct {
	Runner utils.Runner
}

func (p Pacstrap) InstallBase(rootdir string) error {
	utils.Log.Info().Str("root", rootdir).Msg("Installing base system, this takes a while")
	if out, err := p.Runner.Run(fmt.Sprintf("pacstrap -K %s %s", rootdir, basePackages)); err != nil {
		return fmt.Errorf("base installation failed: %s: %w", lastLine(out), err)
	}
	return nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return lines[len(lines)-1]
}
