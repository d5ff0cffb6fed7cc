package constants

import (
	"errors"
	"fmt"
	"os"
)

var ErrAlreadyMounted = errors.New("already mounted")

// Pipeline operation names. The DAG dependencies between these ops encode
// the only valid provisioning order.
const (
	OpLoadDrivers  = "load-drivers"
	OpEraseDisk    = "erase-disk"
	OpPartition    = "partition-disk"
	OpCipherCheck  = "cipher-check"
	OpLuksFormat   = "luks-format"
	OpLuksOpen     = "luks-open"
	OpLvmSetup     = "lvm-setup"
	OpFormatVols   = "format-volumes"
	OpMountTree    = "mount-tree"
	OpWriteFstab   = "write-fstab"
	OpInstallBase  = "install-base"
	OpResolveIDs   = "resolve-identifiers"
	OpWriteHandoff = "write-handoff"
	OpSysConfig    = "system-config"
	OpBootloader   = "install-bootloader"
)

const (
	// MapperName is the name the opened LUKS container is mapped under.
	// It ends up verbatim in the cryptdevice= kernel argument, so it must
	// never change between provisioning and boot configuration.
	MapperName = "lvm-system"

	// VGName is the volume group built on top of the opened container.
	VGName = "system"

	VolBoot = "volBoot"
	VolSwap = "volSwap"
	VolRoot = "volRoot"

	BootLabel = "BOOT"
	SwapLabel = "SWAP"
	RootLabel = "ROOT"
)

// LUKS format parameters. Fixed for every topology.
const (
	LuksCipher   = "serpent-xts-plain64"
	LuksKeySize  = "512"
	LuksHash     = "sha512"
	LuksIterTime = "10000"
)

const (
	// EfiMarker is the firmware marker probed to detect UEFI mode.
	EfiMarker = "/sys/firmware/efi"
	// EfiMarkerEnv overrides the marker path, mostly for tests.
	EfiMarkerEnv = "ARCHON_EFI_MARKER"

	// ProcCrypto lists the ciphers the running kernel provides.
	ProcCrypto = "/proc/crypto"
	// ProcCryptoEnv overrides the cipher listing path, mostly for tests.
	ProcCryptoEnv = "ARCHON_PROC_CRYPTO"
)

// MapperPath is the device path of the opened LUKS container.
func MapperPath() string {
	return fmt.Sprintf("/dev/mapper/%s", MapperName)
}

// LVPath is the device path of a logical volume inside VGName.
func LVPath(name string) string {
	return fmt.Sprintf("/dev/%s/%s", VGName, name)
}

// EfiMarkerPath returns the firmware marker path, honoring the override.
func EfiMarkerPath() string {
	if p := os.Getenv(EfiMarkerEnv); p != "" {
		return p
	}
	return EfiMarker
}

// ProcCryptoPath returns the kernel cipher listing path, honoring the override.
func ProcCryptoPath() string {
	if p := os.Getenv(ProcCryptoEnv); p != "" {
		return p
	}
	return ProcCrypto
}
