package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidHostname checks RFC 1123 label rules for a single hostname.
func ValidHostname(s string) error {
	if !hostnameRe.MatchString(s) {
		return fmt.Errorf("invalid hostname %q", s)
	}
	return nil
}

const zoneinfoDir = "/usr/share/zoneinfo"

// ValidTimezone checks the timezone against the zoneinfo database. When the
// database is not present in the installer environment the check is
// skipped, the value is validated again when applied in the chroot.
func ValidTimezone(s string) error {
	if s == "" || filepath.IsAbs(s) || strings.Contains(s, "..") {
		return fmt.Errorf("invalid timezone %q", s)
	}
	if _, err := os.Stat(zoneinfoDir); err != nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(zoneinfoDir, s)); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}
