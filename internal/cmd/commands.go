package cmd

import (
	"context"

	"github.com/spectrocloud-labs/herd"
	"github.com/urfave/cli/v2"

	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/internal/version"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/input"
	"github.com/archon-install/archon/pkg/state"
)

var Commands = []*cli.Command{
	{
		Name:  "install",
		Usage: "provision the target device and install the system",
		Description: `
Erases the target device, partitions it, sets up the encrypted LVM layout,
installs the base system and configures the bootloader. Destructive and
irreversible once the erase step is confirmed.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "answers",
				Usage:   "yaml answer file, missing values are prompted for",
				EnvVars: []string{"ARCHON_ANSWERS"},
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print the pipeline and exit without touching anything",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, c.Bool("dry-run"))
		},
	},
	{
		Name:  "plan",
		Usage: "print the provisioning pipeline without running it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "answers",
				EnvVars: []string{"ARCHON_ANSWERS"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, true)
		},
	},
	{
		Name:  "version",
		Usage: "version",
		Action: func(*cli.Context) error {
			v := version.Get()
			utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("Archon")
			return nil
		},
	},
}

func run(c *cli.Context, dryRun bool) error {
	utils.SetLogger()

	v := version.Get()
	utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("Archon")

	answers, err := config.LoadAnswers(c.String("answers"))
	if err != nil {
		return err
	}

	provider := input.NewTerminal()
	cfg, err := input.BuildConfig(answers, provider)
	if err != nil {
		return err
	}
	utils.Log.Info().
		Str("device", cfg.Device.Path).
		Str("topology", string(cfg.Topology)).
		Str("boot", cfg.BootSize).
		Str("swap", cfg.SwapSize).
		Str("erase", string(cfg.Erase)).
		Msg("Configuration assembled")

	g := herd.DAG(herd.EnableInit)
	s := state.New(cfg, provider)
	if err := s.Register(g); err != nil {
		return err
	}

	utils.Log.Info().Msg(s.WriteDAG(g))
	if dryRun {
		return nil
	}

	err = g.Run(context.Background())
	utils.Log.Info().Msg(s.WriteDAG(g))
	return err
}
