package input

import (
	"fmt"

	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

// Hardware lookups, swappable in tests.
var (
	discoverDisks = device.Discover
	deviceExists  = device.Exists
)

// BuildConfig assembles the immutable run configuration from the answer
// file, prompting through the provider for anything missing. The result is
// validated once here and never mutated afterwards.
func BuildConfig(a config.Answers, p Provider) (config.Config, error) {
	var c config.Config
	var err error

	target := a.Device
	if target == "" {
		disks, derr := discoverDisks()
		if derr != nil {
			return c, derr
		}
		target, err = p.TargetDevice(disks)
		if err != nil {
			return c, err
		}
	} else if !deviceExists(target) {
		return c, fmt.Errorf("answer file names device %q which does not exist", target)
	}
	c.Device = device.New(target)

	if a.Topology != "" {
		c.Topology, err = config.ParseTopology(a.Topology)
	} else {
		c.Topology, err = p.Topology()
	}
	if err != nil {
		return c, err
	}

	c.BootSize, err = sizeFrom(a.BootSize, p.BootSize)
	if err != nil {
		return c, err
	}
	c.SwapSize, err = sizeFrom(a.SwapSize, p.SwapSize)
	if err != nil {
		return c, err
	}

	if a.Erase != "" {
		c.Erase, err = config.ParseEraseMode(a.Erase)
	} else {
		c.Erase, err = p.EraseMode()
	}
	if err != nil {
		return c, err
	}

	c.Hostname, err = stringFrom(a.Hostname, p.Hostname)
	if err != nil {
		return c, err
	}
	if err := config.ValidHostname(c.Hostname); err != nil {
		return c, err
	}
	c.Timezone, err = stringFrom(a.Timezone, p.Timezone)
	if err != nil {
		return c, err
	}
	if err := config.ValidTimezone(c.Timezone); err != nil {
		return c, err
	}
	c.Locale, err = stringFrom(a.Locale, p.Locale)
	if err != nil {
		return c, err
	}
	c.Username = a.Username
	if c.Username == "" {
		c.Username, err = p.Username()
		if err != nil {
			return c, err
		}
	}

	return c, c.Validate()
}

func sizeFrom(answer string, prompt func() (string, error)) (string, error) {
	if answer != "" {
		return config.NormalizeSize(answer)
	}
	return prompt()
}

func stringFrom(answer string, prompt func() (string, error)) (string, error) {
	if answer != "" {
		return answer, nil
	}
	return prompt()
}
