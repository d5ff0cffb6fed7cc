package luks

import (
	"fmt"
	"os"
	"strings"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
)

// CheckCipher verifies the kernel provides the serpent cipher, trying to
// load the module if it is missing. Absence is a loud warning, not an
// error: luksFormat will fail on its own and surface the real problem.
func CheckCipher(r utils.Runner) {
	if kernelHasSerpent() {
		return
	}
	out, err := r.Run("modprobe serpent")
	if err != nil {
		utils.Log.Debug().Err(err).Str("out", out).Msg("modprobe serpent")
	}
	if !kernelHasSerpent() {
		utils.Log.Warn().Msg("Kernel does not expose the serpent cipher. LUKS formatting will most likely fail.")
	}
}

func kernelHasSerpent() bool {
	content, err := os.ReadFile(cnst.ProcCryptoPath())
	if err != nil {
		utils.Log.Warn().Err(err).Msg("Reading kernel cipher list")
		return false
	}
	return strings.Contains(string(content), "serpent")
}

// Format creates the LUKS container on the partition with the fixed
// parameters. cryptsetup prompts for the passphrase itself, twice, and
// blocks until the operator answers; there is no timeout. An interrupt
// here leaves the container unformatted on a partially erased device,
// which is a documented failure mode, not something we recover.
func Format(r utils.Runner, partitionPath string) error {
	cmd := fmt.Sprintf(
		"cryptsetup luksFormat --cipher %s --key-size %s --hash %s --iter-time %s --use-random --verify-passphrase %s",
		cnst.LuksCipher, cnst.LuksKeySize, cnst.LuksHash, cnst.LuksIterTime, partitionPath,
	)
	utils.Log.Info().Str("partition", partitionPath).Msg("Formatting LUKS container, you will be asked for a passphrase")
	if err := r.RunInteractive(cmd); err != nil {
		return fmt.Errorf("luksFormat on %s: %w", partitionPath, err)
	}
	return nil
}

// Open maps the container under the fixed mapper name. A wrong passphrase
// is fatal and is not retried here: looping would mask a misremembered
// passphrase, re-invocation has to be explicit.
func Open(r utils.Runner, partitionPath string) error {
	cmd := fmt.Sprintf("cryptsetup open %s %s", partitionPath, cnst.MapperName)
	if err := r.RunInteractive(cmd); err != nil {
		return fmt.Errorf("opening LUKS container on %s as %s: %w", partitionPath, cnst.MapperName, err)
	}
	utils.Log.Info().Str("mapper", cnst.MapperPath()).Msg("Encrypted container open")
	return nil
}
