package input

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/archon-install/archon/pkg/bootcfg"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

// Provider supplies every operator decision the pipeline needs. The core
// never talks to a terminal directly, so the whole run can be driven by a
// scripted implementation in tests.
type Provider interface {
	TargetDevice(disks []device.Disk) (string, error)
	Topology() (config.Topology, error)
	BootSize() (string, error)
	SwapSize() (string, error)
	EraseMode() (config.EraseMode, error)
	// ConfirmErase is the last gate before anything destructive happens.
	ConfirmErase(devicePath string) (bool, error)
	// ConfirmFirmware presents the probed firmware mode for confirmation
	// or override.
	ConfirmFirmware(detected bootcfg.Firmware) (bootcfg.Firmware, error)
	Hostname() (string, error)
	Timezone() (string, error)
	Locale() (string, error)
	Username() (string, error)
	// Password prompts without echo and requires matching double entry.
	Password(subject string) (string, error)
}

// Terminal is the interactive Provider. Invalid input is recovered locally
// by re-prompting, it never aborts the run.
type Terminal struct {
	scanner *bufio.Scanner
}

func NewTerminal() *Terminal {
	return &Terminal{scanner: bufio.NewScanner(os.Stdin)}
}

func (t *Terminal) ask(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("input closed")
	}
	return strings.TrimSpace(t.scanner.Text()), nil
}

func (t *Terminal) TargetDevice(disks []device.Disk) (string, error) {
	fmt.Println("Available disks:")
	for _, d := range disks {
		fmt.Printf("  %-12s %6d GiB  %s\n", d.Name, d.SizeBytes>>30, d.Model)
	}
	for {
		answer, err := t.ask("Target device (e.g. sda, nvme0n1)")
		if err != nil {
			return "", err
		}
		if answer == "" {
			continue
		}
		if !device.Exists(answer) {
			fmt.Printf("no such disk: %s\n", answer)
			continue
		}
		return answer, nil
	}
}

func (t *Terminal) Topology() (config.Topology, error) {
	for {
		answer, err := t.ask("Boot topology: [1] encrypted /boot (grub unlocks the disk) [2] separate unencrypted /boot")
		if err != nil {
			return "", err
		}
		topology, err := config.ParseTopology(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		return topology, nil
	}
}

func (t *Terminal) BootSize() (string, error) { return t.size("Boot size (default unit G)", "1G") }
func (t *Terminal) SwapSize() (string, error) { return t.size("Swap size (default unit G)", "8G") }

func (t *Terminal) size(prompt, fallback string) (string, error) {
	for {
		answer, err := t.ask(fmt.Sprintf("%s [%s]", prompt, fallback))
		if err != nil {
			return "", err
		}
		if answer == "" {
			return fallback, nil
		}
		normalized, err := config.NormalizeSize(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		return normalized, nil
	}
}

func (t *Terminal) EraseMode() (config.EraseMode, error) {
	for {
		answer, err := t.ask("Erase strategy: [1] quick (wipe signatures) [2] secure (full overwrite, slow)")
		if err != nil {
			return "", err
		}
		mode, err := config.ParseEraseMode(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		return mode, nil
	}
}

func (t *Terminal) ConfirmErase(devicePath string) (bool, error) {
	answer, err := t.ask(fmt.Sprintf("ALL DATA ON %s WILL BE DESTROYED. Type 'yes' to continue", devicePath))
	if err != nil {
		return false, err
	}
	return answer == "yes", nil
}

func (t *Terminal) ConfirmFirmware(detected bootcfg.Firmware) (bootcfg.Firmware, error) {
	for {
		answer, err := t.ask(fmt.Sprintf("Detected %s firmware. Press enter to accept, or type bios/uefi to override", detected))
		if err != nil {
			return "", err
		}
		switch strings.ToLower(answer) {
		case "":
			return detected, nil
		case "bios":
			return bootcfg.BIOS, nil
		case "uefi":
			return bootcfg.UEFI, nil
		}
		fmt.Println("answer bios, uefi or press enter")
	}
}

func (t *Terminal) Hostname() (string, error) {
	for {
		answer, err := t.ask("Hostname")
		if err != nil {
			return "", err
		}
		if err := config.ValidHostname(answer); err != nil {
			fmt.Println(err)
			continue
		}
		return answer, nil
	}
}

func (t *Terminal) Timezone() (string, error) {
	for {
		answer, err := t.ask("Timezone (e.g. Europe/Berlin)")
		if err != nil {
			return "", err
		}
		if err := config.ValidTimezone(answer); err != nil {
			fmt.Println(err)
			continue
		}
		return answer, nil
	}
}

func (t *Terminal) Locale() (string, error) {
	answer, err := t.ask("Locale [en_US.UTF-8]")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "en_US.UTF-8", nil
	}
	return answer, nil
}

func (t *Terminal) Username() (string, error) {
	return t.ask("Additional user to create (empty for none)")
}

func (t *Terminal) Password(subject string) (string, error) {
	for {
		fmt.Printf("Password for %s: ", subject)
		first, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		fmt.Print("Confirm password: ")
		second, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		if len(first) == 0 {
			fmt.Println("empty password not allowed")
			continue
		}
		if string(first) != string(second) {
			fmt.Println("passwords do not match, try again")
			continue
		}
		return string(first), nil
	}
}
