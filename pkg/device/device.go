package device

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"

	"github.com/archon-install/archon/internal/utils"
)

// Scheme is the partition naming scheme of a disk.
type Scheme int

const (
	// Standard appends the partition number directly: /dev/sda -> /dev/sda1.
	Standard Scheme = iota
	// Separator inserts a "p" before the partition number, the kernel rule
	// for disks whose base name ends in a digit: /dev/nvme0n1 -> /dev/nvme0n1p1.
	Separator
)

// Device is the resolved target disk. It is immutable once created and is
// the only place partition paths are derived, every stage that needs one
// must go through Partition.
type Device struct {
	Path   string
	Scheme Scheme
}

var endsInDigit = regexp.MustCompile(`[0-9]$`)

// New resolves a device identifier into a Device. Bare names get the /dev
// prefix, paths are kept as-is.
func New(id string) Device {
	path := strings.TrimSpace(id)
	if !strings.Contains(path, "/") {
		path = filepath.Join("/dev", path)
	}
	scheme := Standard
	if endsInDigit.MatchString(filepath.Base(path)) {
		scheme = Separator
	}
	return Device{Path: path, Scheme: scheme}
}

// Partition returns the concrete path of partition n on the device.
func (d Device) Partition(n int) string {
	if d.Scheme == Separator {
		return fmt.Sprintf("%sp%d", d.Path, n)
	}
	return fmt.Sprintf("%s%d", d.Path, n)
}

// Disk is a candidate installation target presented to the operator.
type Disk struct {
	Name      string
	SizeBytes uint64
	Model     string
}

// Discover lists the physical disks on the system, skipping things that
// can never be an install target.
func Discover() ([]Disk, error) {
	blk, err := ghw.Block()
	if err != nil {
		return nil, fmt.Errorf("scanning block devices: %w", err)
	}

	var disks []Disk
	for _, d := range blk.Disks {
		if d.DriveType == block.DRIVE_TYPE_ODD || d.DriveType == block.DRIVE_TYPE_VIRTUAL {
			continue
		}
		if strings.HasPrefix(d.Name, "loop") || strings.HasPrefix(d.Name, "ram") {
			continue
		}
		disks = append(disks, Disk{
			Name:      d.Name,
			SizeBytes: d.SizeBytes,
			Model:     d.Model,
		})
	}
	return disks, nil
}

// Exists reports whether the identifier names a disk ghw can see.
func Exists(id string) bool {
	name := filepath.Base(New(id).Path)
	disks, err := Discover()
	if err != nil {
		utils.Log.Warn().Err(err).Msg("Block device scan failed, skipping device validation")
		return true
	}
	for _, d := range disks {
		if d.Name == name {
			return true
		}
	}
	return false
}
