package state

import (
	"fmt"
	"path/filepath"

	"github.com/deniswernert/go-fstab"
	"github.com/joho/godotenv"
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/internal/utils"
	"github.com/archon-install/archon/pkg/bootcfg"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/erase"
	"github.com/archon-install/archon/pkg/fsmount"
	"github.com/archon-install/archon/pkg/ident"
	"github.com/archon-install/archon/pkg/input"
)

// State carries the run configuration and everything the pipeline stages
// produce. The injectable function fields default to the real operations;
// tests replace them to drive the whole pipeline without a disk.
type State struct {
	Config  config.Config
	Rootdir string

	Runner    utils.Runner
	Input     input.Provider
	Installer Installer

	Erase     func(devicePath string, mode config.EraseMode) error
	Mount     func(op fsmount.MountOperation) error
	ChrootRun func(cmd string) (string, error)

	fstabs   []*fstab.Mount
	ids      ident.Set
	firmware bootcfg.Firmware
}

// New builds a State with the real implementations wired in.
func New(c config.Config, p input.Provider) *State {
	r := utils.ShellRunner{}
	s := &State{
		Config:    c,
		Rootdir:   "/mnt",
		Runner:    r,
		Input:     p,
		Installer: Pacstrap{Runner: r},
		Erase:     erase.Run,
		Mount:     func(op fsmount.MountOperation) error { return op.Run() },
	}
	s.ChrootRun = func(cmd string) (string, error) {
		return utils.NewChroot(s.Rootdir).Run(cmd)
	}
	return s
}

// Identifiers exposes the resolved identifier set for collaborators once
// the pipeline has run.
func (s *State) Identifiers() ident.Set {
	return s.ids
}

// WriteHandoff persists the resolved identifiers and the topology for the
// configuration collaborators, so initramfs hook lists and the bootloader
// configuration can be edited consistently after this run.
func (s *State) WriteHandoff() error {
	handoff := filepath.Join(s.Rootdir, "etc", "archon", "install.env")
	if err := utils.CreateIfNotExists(filepath.Dir(handoff)); err != nil {
		return err
	}
	env := map[string]string{
		"ARCHON_CRYPT_UUID": s.ids.CryptUUID,
		"ARCHON_ROOT_UUID":  s.ids.RootUUID,
		"ARCHON_SWAP_UUID":  s.ids.SwapUUID,
		"ARCHON_TOPOLOGY":   string(s.Config.Topology),
		"ARCHON_MAPPER":     cnst.MapperName,
		"ARCHON_VG":         cnst.VGName,
	}
	return godotenv.Write(env, handoff)
}

// WriteDAG renders the registered pipeline, layer by layer.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (run: %t)\n", op.Name, op.Error.Error(), op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (run: %t)\n", op.Name, op.Executed)
			}
		}
	}
	return
}

// AddToFstab collects an entry for the final fstab write.
func (s *State) AddToFstab(m *fstab.Mount) {
	s.fstabs = append(s.fstabs, m)
}
