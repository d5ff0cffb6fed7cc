package utils

import (
	"os"
	"os/exec"
	"strings"

	"github.com/kairos-io/kairos-sdk/utils"
)

// Runner abstracts external tool invocation so the pipeline can be driven by
// a recording implementation in tests.
type Runner interface {
	// Run executes the command through a shell and returns its combined output.
	Run(cmd string) (string, error)
	// RunInteractive executes the command attached to the terminal. Used for
	// tools that prompt on their own, like cryptsetup.
	RunInteractive(cmd string) error
}

// ShellRunner is the default Runner backed by the host shell.
type ShellRunner struct{}

func (ShellRunner) Run(cmd string) (string, error) {
	Log.Debug().Str("cmd", cmd).Msg("Running command")
	out, err := utils.SH(cmd)
	if err != nil {
		Log.Debug().Err(err).Str("cmd", cmd).Str("out", strings.TrimSpace(out)).Msg("Command failed")
	}
	return out, err
}

func (ShellRunner) RunInteractive(cmd string) error {
	Log.Debug().Str("cmd", cmd).Msg("Running interactive command")
	c := exec.Command("/bin/sh", "-c", cmd)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = os.Environ()
	return c.Run()
}
