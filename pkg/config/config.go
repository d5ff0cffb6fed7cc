package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/archon-install/archon/pkg/device"
	"gopkg.in/yaml.v3"
)

// Topology is the structural choice of where the boot filesystem lives.
// It is decided once at configuration time; every stage branches on the
// same value and no stage re-derives it from on-disk state.
type Topology string

const (
	// EncryptedBoot keeps /boot inside the LUKS container as a logical
	// volume. A single partition spans the whole disk.
	EncryptedBoot Topology = "encrypted-boot"
	// UnencryptedBoot keeps /boot on a separate plain FAT partition read
	// by the bootloader before any decryption happens.
	UnencryptedBoot Topology = "unencrypted-boot"
)

type EraseMode string

const (
	EraseQuick  EraseMode = "quick"
	EraseSecure EraseMode = "secure"
)

// Config is the immutable run configuration. It is built once from the
// answer file plus interactive prompts, validated, and passed read-only to
// every pipeline stage.
type Config struct {
	Device   device.Device
	Topology Topology
	BootSize string
	SwapSize string
	Erase    EraseMode

	Hostname string
	Timezone string
	Locale   string
	Username string
}

// Answers is the optional non-interactive answer file. Empty fields are
// prompted for.
type Answers struct {
	Device   string `yaml:"device,omitempty"`
	Topology string `yaml:"topology,omitempty"`
	BootSize string `yaml:"boot_size,omitempty"`
	SwapSize string `yaml:"swap_size,omitempty"`
	Erase    string `yaml:"erase,omitempty"`
	Hostname string `yaml:"hostname,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
	Locale   string `yaml:"locale,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// LoadAnswers reads the answer file. A missing path yields empty answers.
func LoadAnswers(path string) (Answers, error) {
	var a Answers
	if path == "" {
		return a, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return a, fmt.Errorf("reading answer file: %w", err)
	}
	if err := yaml.Unmarshal(content, &a); err != nil {
		return a, fmt.Errorf("parsing answer file: %w", err)
	}
	return a, nil
}

var sizeRe = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]?)`)

// NormalizeSize normalizes a size spec to digits plus a G/M/K suffix.
// A bare number gets the default G unit, a valid unit is kept, anything
// else is coerced to G. Only a spec with no digits at all is an error,
// which callers recover from by re-prompting.
func NormalizeSize(s string) (string, error) {
	s = strings.TrimSpace(s)
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("invalid size %q: must start with a number", s)
	}
	unit := strings.ToUpper(m[2])
	switch unit {
	case "G", "M", "K":
	default:
		unit = "G"
	}
	return m[1] + unit, nil
}

// ParseTopology maps user input to a Topology.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "encrypted-boot", "encrypted", "1", "":
		return EncryptedBoot, nil
	case "unencrypted-boot", "unencrypted", "2":
		return UnencryptedBoot, nil
	}
	return "", fmt.Errorf("unknown topology %q", s)
}

// ParseEraseMode maps user input to an EraseMode.
func ParseEraseMode(s string) (EraseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick", "1", "":
		return EraseQuick, nil
	case "secure", "2":
		return EraseSecure, nil
	}
	return "", fmt.Errorf("unknown erase mode %q", s)
}

// Validate checks the assembled configuration before anything destructive
// runs. Sizes are expected normalized by this point.
func (c Config) Validate() error {
	if c.Device.Path == "" {
		return fmt.Errorf("no target device configured")
	}
	for _, s := range []string{c.BootSize, c.SwapSize} {
		if _, err := NormalizeSize(s); err != nil {
			return err
		}
	}
	switch c.Topology {
	case EncryptedBoot, UnencryptedBoot:
	default:
		return fmt.Errorf("unknown topology %q", c.Topology)
	}
	switch c.Erase {
	case EraseQuick, EraseSecure:
	default:
		return fmt.Errorf("unknown erase mode %q", c.Erase)
	}
	return nil
}
