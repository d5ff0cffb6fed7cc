package device

import (
	"fmt"

	kdetect "github.com/mudler/go-kdetect"

	"github.com/archon-install/archon/internal/utils"
)

// LoadStorageDrivers probes the kernel modules matching the detected
// hardware and loads them, so disk controllers attached after the installer
// environment booted are visible before we scan for targets. Failures here
// are not fatal, the disk either shows up or device validation catches it.
func LoadStorageDrivers(r utils.Runner) {
	drivers, err := kdetect.ProbeKernelModules("")
	if err != nil {
		utils.Log.Warn().Err(err).Msg("Probing kernel modules")
		return
	}
	utils.Log.Debug().Int("drivers", len(drivers)).Msg("Probed kernel modules")
	for _, driver := range drivers {
		cmd := fmt.Sprintf("modprobe %s", driver)
		out, err := r.Run(cmd)
		if err != nil {
			utils.Log.Debug().Err(err).Str("out", out).Str("driver", driver).Msg("modprobe")
		}
	}
}
