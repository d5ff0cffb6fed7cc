package bootcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/foxboron/go-uefi/efi"
	"github.com/moby/sys/mountinfo"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/ident"
)

// Firmware is the boot firmware mode grub is installed for.
type Firmware string

const (
	BIOS Firmware = "bios"
	UEFI Firmware = "uefi"
)

// CommandLine derives the kernel command line from the resolved identifiers
// and the topology. Pure: the same inputs always yield the same string.
// The resume clause is only present when a swap UUID was resolved.
func CommandLine(ids ident.Set, t config.Topology) string {
	parts := []string{
		fmt.Sprintf("cryptdevice=UUID=%s:%s:allow-discards", ids.CryptUUID, cnst.MapperName),
		fmt.Sprintf("root=UUID=%s", ids.RootUUID),
		"loglevel=3",
		"quiet",
	}
	if ids.SwapUUID != "" {
		parts = append(parts, fmt.Sprintf("resume=UUID=%s", ids.SwapUUID))
	}
	parts = append(parts, "net.ifnames=0")
	return strings.Join(parts, " ")
}

var grubEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// EscapeValue escapes the characters the grub default file's double-quoted
// substitution syntax reserves, so the assembled line stays a single quoted
// value no matter what the resolved identifiers contain.
func EscapeValue(s string) string {
	return grubEscaper.Replace(s)
}

var (
	cmdlineRe    = regexp.MustCompile(`(?m)^#?\s*GRUB_CMDLINE_LINUX_DEFAULT=.*$`)
	cryptodiskRe = regexp.MustCompile(`(?m)^#?\s*GRUB_ENABLE_CRYPTODISK=.*$`)
)

// WriteGrubDefault rewrites etc/default/grub under the mounted root with
// the derived command line, and enables grub's own decryption support only
// under EncryptedBoot. Under UnencryptedBoot the boot partition is read by
// grub before anything is decrypted, so the flag stays off.
func WriteGrubDefault(rootdir string, ids ident.Set, t config.Topology) error {
	grubFile := filepath.Join(rootdir, "etc", "default", "grub")
	content, err := os.ReadFile(grubFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", grubFile, err)
	}

	cmdlineLine := fmt.Sprintf(`GRUB_CMDLINE_LINUX_DEFAULT="%s"`, EscapeValue(CommandLine(ids, t)))
	cryptodiskLine := "GRUB_ENABLE_CRYPTODISK=y"
	if t != config.EncryptedBoot {
		cryptodiskLine = "#GRUB_ENABLE_CRYPTODISK=y"
	}

	out := replaceOrAppend(string(content), cmdlineRe, cmdlineLine)
	out = replaceOrAppend(out, cryptodiskRe, cryptodiskLine)

	utils.Log.Info().Str("cmdline", cmdlineLine).Msg("Writing bootloader configuration")
	return os.WriteFile(grubFile, []byte(out), 0644)
}

func replaceOrAppend(content string, re *regexp.Regexp, line string) string {
	if re.MatchString(content) {
		// Literal replacement, the line may contain escaped $ sequences.
		return re.ReplaceAllLiteralString(content, line)
	}
	if !strings.HasSuffix(content, "\n") && content != "" {
		content += "\n"
	}
	return content + line + "\n"
}

// Detect probes the firmware marker to guess the boot mode. The operator
// still confirms or overrides the result before installation. A missing
// marker degrades to BIOS with a warning, never an error.
func Detect() Firmware {
	if _, err := os.Stat(cnst.EfiMarkerPath()); err != nil {
		utils.Log.Warn().Str("marker", cnst.EfiMarkerPath()).Msg("No EFI firmware marker found, assuming legacy BIOS boot")
		return BIOS
	}
	if efi.GetSecureBoot() {
		utils.Log.Info().Msg("UEFI firmware detected, secure boot is enabled")
	} else {
		utils.Log.Info().Msg("UEFI firmware detected, secure boot is disabled")
	}
	return UEFI
}

// Install runs the bootloader installation for the firmware mode inside the
// target tree, then regenerates the grub configuration. Under UEFI the boot
// directory must be a verified mount point first: installing into a bare
// directory on the root volume produces an unbootable system.
func Install(runChroot func(string) (string, error), fw Firmware, devPath, rootdir string) error {
	if fw == UEFI {
		bootDir := filepath.Join(rootdir, "boot")
		mounted, err := mountinfo.Mounted(bootDir)
		if err != nil {
			return fmt.Errorf("checking boot mount point %s: %w", bootDir, err)
		}
		if !mounted {
			return fmt.Errorf("%s is not a mount point; mount the boot filesystem there before installing the UEFI bootloader", bootDir)
		}
	}

	var installCmd string
	switch fw {
	case UEFI:
		installCmd = "grub-install --target=x86_64-efi --efi-directory=/boot --bootloader-id=GRUB --recheck"
	default:
		installCmd = fmt.Sprintf("grub-install --target=i386-pc --recheck %s", devPath)
	}

	if out, err := runChroot(installCmd); err != nil {
		return fmt.Errorf("grub-install failed: %s: %w", strings.TrimSpace(out), err)
	}
	if out, err := runChroot("grub-mkconfig -o /boot/grub/grub.cfg"); err != nil {
		return fmt.Errorf("grub-mkconfig failed: %s: %w", strings.TrimSpace(out), err)
	}
	utils.Log.Info().Str("firmware", string(fw)).Msg("Bootloader installed")
	return nil
}
