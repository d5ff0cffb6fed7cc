package input

import (
	"github.com/archon-install/archon/pkg/bootcfg"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

// Scripted is a canned Provider for tests and non-interactive runs.
type Scripted struct {
	Device       string
	Topo         config.Topology
	Boot         string
	Swap         string
	Erase        config.EraseMode
	EraseOK      bool
	Firmware     bootcfg.Firmware
	Host         string
	TZ           string
	Loc          string
	User         string
	Pass         string
	UseDetection bool
}

func (s Scripted) TargetDevice([]device.Disk) (string, error) { return s.Device, nil }
func (s Scripted) Topology() (config.Topology, error)         { return s.Topo, nil }
func (s Scripted) BootSize() (string, error)                  { return s.Boot, nil }
func (s Scripted) SwapSize() (string, error)                  { return s.Swap, nil }
func (s Scripted) EraseMode() (config.EraseMode, error)       { return s.Erase, nil }
func (s Scripted) ConfirmErase(string) (bool, error)          { return s.EraseOK, nil }
func (s Scripted) Hostname() (string, error)                  { return s.Host, nil }
func (s Scripted) Timezone() (string, error)                  { return s.TZ, nil }
func (s Scripted) Locale() (string, error)                    { return s.Loc, nil }
func (s Scripted) Username() (string, error)                  { return s.User, nil }
func (s Scripted) Password(string) (string, error)            { return s.Pass, nil }

func (s Scripted) ConfirmFirmware(detected bootcfg.Firmware) (bootcfg.Firmware, error) {
	if s.UseDetection {
		return detected, nil
	}
	return s.Firmware, nil
}
