package sysconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/config"
)

// System applies the post-install configuration inside the target tree.
// Everything that has to run the target's own tools goes through RunChroot.
type System struct {
	Rootdir   string
	RunChroot func(cmd string) (string, error)
}

func (s System) path(p ...string) string {
	return filepath.Join(append([]string{s.Rootdir}, p...)...)
}

// Apply runs the whole post-install configuration. passwordFor is called
// lazily so the prompts happen at this stage, not during config assembly.
func (s System) Apply(c config.Config, passwordFor func(subject string) (string, error)) error {
	if err := s.ApplyHostname(c.Hostname); err != nil {
		return err
	}
	if err := s.ApplyTimezone(c.Timezone); err != nil {
		return err
	}
	if err := s.ApplyLocale(c.Locale); err != nil {
		return err
	}
	if err := s.ApplyInitramfsHooks(); err != nil {
		return err
	}
	if err := s.SetPassword("root", passwordFor); err != nil {
		return err
	}
	if c.Username != "" {
		if err := s.CreateUser(c.Username, passwordFor); err != nil {
			return err
		}
	}
	return nil
}

func (s System) ApplyHostname(hostname string) error {
	if err := os.WriteFile(s.path("etc", "hostname"), []byte(hostname+"\n"), 0644); err != nil {
		return fmt.Errorf("writing hostname: %w", err)
	}
	hosts := fmt.Sprintf("127.0.0.1\tlocalhost\n::1\t\tlocalhost\n127.0.1.1\t%s.localdomain\t%s\n", hostname, hostname)
	if err := os.WriteFile(s.path("etc", "hosts"), []byte(hosts), 0644); err != nil {
		return fmt.Errorf("writing hosts: %w", err)
	}
	return nil
}

func (s System) ApplyTimezone(tz string) error {
	if _, err := s.RunChroot(fmt.Sprintf("ln -sf /usr/share/zoneinfo/%s /etc/localtime", tz)); err != nil {
		return fmt.Errorf("setting timezone %s: %w", tz, err)
	}
	if out, err := s.RunChroot("hwclock --systohc"); err != nil {
		// No RTC in some virtual machines, not worth failing the install.
		utils.Log.Warn().Err(err).Str("out", strings.TrimSpace(out)).Msg("hwclock")
	}
	return nil
}

func (s System) ApplyLocale(locale string) error {
	genFile := s.path("etc", "locale.gen")
	content, err := os.ReadFile(genFile)
	if err == nil {
		uncommented := strings.Replace(string(content), "#"+locale, locale, 1)
		if uncommented == string(content) && !strings.Contains(uncommented, "\n"+locale) {
			uncommented += locale + " UTF-8\n"
		}
		if err := os.WriteFile(genFile, []byte(uncommented), 0644); err != nil {
			return fmt.Errorf("writing locale.gen: %w", err)
		}
	}
	if err := os.WriteFile(s.path("etc", "locale.conf"), []byte(fmt.Sprintf("LANG=%s\n", locale)), 0644); err != nil {
		return fmt.Errorf("writing locale.conf: %w", err)
	}
	if _, err := s.RunChroot("locale-gen"); err != nil {
		return fmt.Errorf("generating locales: %w", err)
	}
	return nil
}

var hooksRe = regexp.MustCompile(`(?m)^HOOKS=.*$`)

// initramfsHooks is the hook order the encrypted LVM layout boots with:
// encrypt and lvm2 have to run after block and before filesystems, resume
// after lvm2 so the swap volume exists.
const initramfsHooks = "HOOKS=(base udev autodetect modconf kms keyboard keymap consolefont block encrypt lvm2 resume filesystems fsck)"

// RewriteHooks replaces the active HOOKS line of a mkinitcpio.conf.
func RewriteHooks(content string) string {
	if hooksRe.MatchString(content) {
		return hooksRe.ReplaceAllString(content, initramfsHooks)
	}
	if !strings.HasSuffix(content, "\n") && content != "" {
		content += "\n"
	}
	return content + initramfsHooks + "\n"
}

// ApplyInitramfsHooks rewrites the initramfs hook list so the generated
// image can unlock the container, activate the volume group and resume
// from the swap volume, then regenerates the images.
func (s System) ApplyInitramfsHooks() error {
	confFile := s.path("etc", "mkinitcpio.conf")
	content, err := os.ReadFile(confFile)
	if err != nil {
		return fmt.Errorf("reading mkinitcpio.conf: %w", err)
	}
	if err := os.WriteFile(confFile, []byte(RewriteHooks(string(content))), 0644); err != nil {
		return fmt.Errorf("writing mkinitcpio.conf: %w", err)
	}
	if out, err := s.RunChroot("mkinitcpio -P"); err != nil {
		return fmt.Errorf("generating initramfs: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

func (s System) SetPassword(user string, passwordFor func(string) (string, error)) error {
	password, err := passwordFor(user)
	if err != nil {
		return err
	}
	quoted := strings.ReplaceAll(fmt.Sprintf("%s:%s", user, password), "'", `'\''`)
	if _, err := s.RunChroot(fmt.Sprintf("printf '%%s' '%s' | chpasswd", quoted)); err != nil {
		return fmt.Errorf("setting password for %s: %w", user, err)
	}
	return nil
}

func (s System) CreateUser(name string, passwordFor func(string) (string, error)) error {
	if _, err := s.RunChroot(fmt.Sprintf("useradd -m -G wheel %s", name)); err != nil {
		return fmt.Errorf("creating user %s: %w", name, err)
	}
	if err := s.SetPassword(name, passwordFor); err != nil {
		return err
	}

	sudoers := s.path("etc", "sudoers")
	content, err := os.ReadFile(sudoers)
	if err != nil {
		utils.Log.Warn().Err(err).Msg("No sudoers file, skipping wheel enablement")
		return nil
	}
	enabled := strings.Replace(string(content), "# %wheel ALL=(ALL:ALL) ALL", "%wheel ALL=(ALL:ALL) ALL", 1)
	return os.WriteFile(sudoers, []byte(enabled), 0440)
}
