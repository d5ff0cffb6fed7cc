package state_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/archon-install/archon/internal/constants"
	"github.com/archon-install/archon/pkg/bootcfg"
	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
	"github.com/archon-install/archon/pkg/fsmount"
	"github.com/archon-install/archon/pkg/input"
	"github.com/archon-install/archon/pkg/state"
	"github.com/archon-install/archon/tests/mocks"
)

const (
	cryptUUID = "f0b3f8ac-5f6e-4c2a-9c22-22c6b0f1a84f"
	rootUUID  = "8c9fa0f3-2c1d-43b2-9e1b-50d2a7a0e8d1"
	swapUUID  = "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
)

type fakeInstaller struct {
	rootdir string
	calls   int
}

func (f *fakeInstaller) InstallBase(rootdir string) error {
	f.rootdir = rootdir
	f.calls++
	return nil
}

// harness wires a State whose destructive operations are all recorded
// instead of executed.
type harness struct {
	state      *state.State
	runner     *mocks.RecordingRunner
	installer  *fakeInstaller
	erased     []string
	eraseModes []config.EraseMode
	mounted    []string
	chrootCmds []string
}

func newHarness(c config.Config, p input.Provider, cryptPart string) *harness {
	h := &harness{
		runner:    mocks.NewRecordingRunner(),
		installer: &fakeInstaller{},
	}
	h.runner.Responses["blkid -s UUID -o value "+cryptPart] = cryptUUID + "\n"
	h.runner.Responses["blkid -s UUID -o value /dev/system/volRoot"] = rootUUID + "\n"
	h.runner.Responses["blkid -s UUID -o value /dev/system/volSwap"] = swapUUID + "\n"

	rootdir := GinkgoT().TempDir()
	seedTargetTree(rootdir)

	s := state.New(c, p)
	s.Rootdir = rootdir
	s.Runner = h.runner
	s.Installer = h.installer
	s.Erase = func(devicePath string, mode config.EraseMode) error {
		h.erased = append(h.erased, devicePath)
		h.eraseModes = append(h.eraseModes, mode)
		return nil
	}
	s.Mount = func(op fsmount.MountOperation) error {
		h.mounted = append(h.mounted, op.Target)
		return nil
	}
	s.ChrootRun = func(cmd string) (string, error) {
		h.chrootCmds = append(h.chrootCmds, cmd)
		return "", nil
	}
	h.state = s
	return h
}

// seedTargetTree lays down the files the configuration stages edit, the
// way a fresh base installation leaves them.
func seedTargetTree(rootdir string) {
	Expect(os.MkdirAll(filepath.Join(rootdir, "etc", "default"), 0755)).To(Succeed())
	seed := map[string]string{
		"etc/default/grub":    "GRUB_TIMEOUT=5\nGRUB_CMDLINE_LINUX_DEFAULT=\"loglevel=3 quiet\"\n#GRUB_ENABLE_CRYPTODISK=y\n",
		"etc/locale.gen":      "#en_US.UTF-8 UTF-8\n#de_DE.UTF-8 UTF-8\n",
		"etc/mkinitcpio.conf": "MODULES=()\nHOOKS=(base udev autodetect modconf block filesystems fsck)\n",
		"etc/sudoers":         "root ALL=(ALL:ALL) ALL\n# %wheel ALL=(ALL:ALL) ALL\n",
	}
	for name, content := range seed {
		Expect(os.WriteFile(filepath.Join(rootdir, filepath.FromSlash(name)), []byte(content), 0644)).To(Succeed())
	}
}

func (h *harness) chrootRan(substr string) bool {
	for _, cmd := range h.chrootCmds {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func (h *harness) readFile(p ...string) string {
	content, err := os.ReadFile(filepath.Join(append([]string{h.state.Rootdir}, p...)...))
	Expect(err).ToNot(HaveOccurred())
	return string(content)
}

func scriptedProvider() input.Scripted {
	return input.Scripted{
		Topo:     config.EncryptedBoot,
		Boot:     "1G",
		Swap:     "8G",
		Erase:    config.EraseQuick,
		EraseOK:  true,
		Firmware: bootcfg.BIOS,
		Host:     "vault",
		TZ:       "UTC",
		Loc:      "en_US.UTF-8",
		User:     "alice",
		Pass:     "hunter2",
	}
}

func configFor(devID string, t config.Topology) config.Config {
	return config.Config{
		Device:   device.New(devID),
		Topology: t,
		BootSize: "1G",
		SwapSize: "8G",
		Erase:    config.EraseQuick,
		Hostname: "vault",
		Timezone: "UTC",
		Locale:   "en_US.UTF-8",
		Username: "alice",
	}
}

var _ = Describe("provisioning pipeline", func() {
	var g *herd.Graph

	BeforeEach(func() {
		g = herd.DAG(herd.EnableInit)
		Expect(g).ToNot(BeNil())
		// Keep firmware detection and cipher checks off the host.
		os.Setenv("ARCHON_EFI_MARKER", "/nonexistent/efi-marker")
		procCrypto := filepath.Join(GinkgoT().TempDir(), "crypto")
		Expect(os.WriteFile(procCrypto, []byte("name : serpent\n"), 0644)).To(Succeed())
		os.Setenv("ARCHON_PROC_CRYPTO", procCrypto)
	})
	AfterEach(func() {
		os.Unsetenv("ARCHON_EFI_MARKER")
		os.Unsetenv("ARCHON_PROC_CRYPTO")
	})

	Context("encrypted boot on a virtio disk", func() {
		var h *harness

		BeforeEach(func() {
			c := configFor("vda", config.EncryptedBoot)
			c.Erase = config.EraseSecure
			h = newHarness(c, scriptedProvider(), "/dev/vda1")
			Expect(h.state.Register(g)).To(Succeed())
			Expect(g.Run(context.Background())).To(Succeed())
		})

		It("securely erases the whole device first", func() {
			Expect(h.erased).To(Equal([]string{"/dev/vda"}))
			Expect(h.eraseModes).To(Equal([]config.EraseMode{config.EraseSecure}))
		})

		It("runs the destructive stages in strict order", func() {
			Expect(h.runner.RanInOrder(
				"parted --script --align optimal /dev/vda mklabel gpt",
				"mkpart primary 0% 100%",
				"set 1 boot on",
				"set 1 lvm on",
				"pvcreate /dev/mapper/lvm-system",
				"vgcreate system /dev/mapper/lvm-system",
				"lvcreate --contiguous y -L 1G -n volBoot system",
				"lvcreate --contiguous y -L 8G -n volSwap system",
				"lvcreate --contiguous y -l 100%FREE -n volRoot system",
				"mkfs.vfat -F32 -n BOOT /dev/system/volBoot",
				"mkswap -L SWAP /dev/system/volSwap",
				"mkfs.btrfs -f -L ROOT /dev/system/volRoot",
				"swapon /dev/system/volSwap",
				"blkid -s UUID -o value /dev/vda1",
			)).To(Succeed())
		})

		It("formats and opens the container on the single partition", func() {
			Expect(h.runner.Interactive).To(HaveLen(2))
			Expect(h.runner.Interactive[0]).To(ContainSubstring("cryptsetup luksFormat"))
			Expect(h.runner.Interactive[0]).To(ContainSubstring("/dev/vda1"))
			Expect(h.runner.Interactive[1]).To(Equal("cryptsetup open /dev/vda1 lvm-system"))
		})

		It("mounts root then boot and installs the base system", func() {
			Expect(h.mounted).To(Equal([]string{h.state.Rootdir, filepath.Join(h.state.Rootdir, "boot")}))
			Expect(h.installer.calls).To(Equal(1))
			Expect(h.installer.rootdir).To(Equal(h.state.Rootdir))
		})

		It("resolves the identifiers", func() {
			ids := h.state.Identifiers()
			Expect(ids.CryptUUID).To(Equal(cryptUUID))
			Expect(ids.RootUUID).To(Equal(rootUUID))
			Expect(ids.SwapUUID).To(Equal(swapUUID))
		})

		It("writes the fstab with the swap volume by UUID", func() {
			fstab := h.readFile("etc", "fstab")
			Expect(fstab).To(ContainSubstring("/dev/system/volRoot / btrfs"))
			Expect(fstab).To(ContainSubstring("/dev/system/volBoot /boot vfat"))
			Expect(fstab).To(ContainSubstring("UUID=" + swapUUID + " none swap"))
		})

		It("persists the handoff environment", func() {
			env, err := godotenv.Read(filepath.Join(h.state.Rootdir, "etc", "archon", "install.env"))
			Expect(err).ToNot(HaveOccurred())
			Expect(env["ARCHON_CRYPT_UUID"]).To(Equal(cryptUUID))
			Expect(env["ARCHON_ROOT_UUID"]).To(Equal(rootUUID))
			Expect(env["ARCHON_SWAP_UUID"]).To(Equal(swapUUID))
			Expect(env["ARCHON_TOPOLOGY"]).To(Equal("encrypted-boot"))
			Expect(env["ARCHON_MAPPER"]).To(Equal("lvm-system"))
			Expect(env["ARCHON_VG"]).To(Equal("system"))
		})

		It("configures the installed system in the chroot", func() {
			Expect(h.chrootRan("ln -sf /usr/share/zoneinfo/UTC /etc/localtime")).To(BeTrue())
			Expect(h.chrootRan("locale-gen")).To(BeTrue())
			Expect(h.chrootRan("mkinitcpio -P")).To(BeTrue())
			Expect(h.chrootRan("chpasswd")).To(BeTrue())
			Expect(h.chrootRan("useradd -m -G wheel alice")).To(BeTrue())
			Expect(h.readFile("etc", "hostname")).To(Equal("vault\n"))
			Expect(h.readFile("etc", "mkinitcpio.conf")).To(ContainSubstring("block encrypt lvm2 resume filesystems"))
		})

		It("derives the bootloader configuration from the resolved identifiers", func() {
			grub := h.readFile("etc", "default", "grub")
			Expect(grub).To(ContainSubstring("cryptdevice=UUID=" + cryptUUID + ":lvm-system:allow-discards"))
			Expect(grub).To(ContainSubstring("root=UUID=" + rootUUID))
			Expect(grub).To(ContainSubstring("resume=UUID=" + swapUUID))
			Expect(grub).To(MatchRegexp(`(?m)^GRUB_ENABLE_CRYPTODISK=y`))
			Expect(h.chrootRan("grub-install --target=i386-pc --recheck /dev/vda")).To(BeTrue())
			Expect(h.chrootRan("grub-mkconfig")).To(BeTrue())
		})

		It("renders every stage as executed", func() {
			out := h.state.WriteDAG(g)
			for _, op := range []string{
				cnst.OpLoadDrivers, cnst.OpEraseDisk, cnst.OpPartition, cnst.OpCipherCheck,
				cnst.OpLuksFormat, cnst.OpLuksOpen, cnst.OpLvmSetup, cnst.OpFormatVols,
				cnst.OpMountTree, cnst.OpInstallBase, cnst.OpResolveIDs, cnst.OpWriteFstab,
				cnst.OpWriteHandoff, cnst.OpSysConfig, cnst.OpBootloader,
			} {
				Expect(out).To(ContainSubstring("<" + op + "> (run: true)"))
			}
		})
	})

	Context("unencrypted boot on an nvme disk", func() {
		var h *harness

		BeforeEach(func() {
			h = newHarness(configFor("nvme0n1", config.UnencryptedBoot), scriptedProvider(), "/dev/nvme0n1p2")
			Expect(h.state.Register(g)).To(Succeed())
			Expect(g.Run(context.Background())).To(Succeed())
		})

		It("creates a plain boot partition ahead of the container", func() {
			Expect(h.runner.RanInOrder(
				"parted --script --align optimal /dev/nvme0n1 mklabel gpt",
				"mkpart primary fat32 0% 1GiB",
				"set 1 boot on",
				"set 1 esp on",
				"mkpart primary 1GiB 100%",
				"set 2 lvm on",
			)).To(Succeed())
		})

		It("encrypts the second partition", func() {
			Expect(h.runner.Interactive[0]).To(ContainSubstring("/dev/nvme0n1p2"))
			Expect(h.runner.Interactive[1]).To(Equal("cryptsetup open /dev/nvme0n1p2 lvm-system"))
		})

		It("keeps boot out of the volume group", func() {
			Expect(h.runner.Ran("-n volBoot")).To(BeFalse())
			Expect(h.runner.Ran("mkfs.vfat -F32 -n BOOT /dev/nvme0n1p1")).To(BeTrue())
		})

		It("leaves grub's decryption support off", func() {
			grub := h.readFile("etc", "default", "grub")
			Expect(grub).ToNot(MatchRegexp(`(?m)^GRUB_ENABLE_CRYPTODISK=y`))
			Expect(grub).To(ContainSubstring("cryptdevice=UUID=" + cryptUUID))
		})
	})

	Context("declined erasure confirmation", func() {
		It("stops before anything destructive", func() {
			p := scriptedProvider()
			p.EraseOK = false
			h := newHarness(configFor("vda", config.EncryptedBoot), p, "/dev/vda1")
			Expect(h.state.Register(g)).To(Succeed())

			g.Run(context.Background())

			Expect(h.erased).To(BeEmpty())
			Expect(h.runner.Ran("parted")).To(BeFalse())
			Expect(h.runner.Interactive).To(BeEmpty())
			Expect(h.installer.calls).To(BeZero())
			Expect(h.state.WriteDAG(g)).To(ContainSubstring("not confirmed"))
		})
	})
})
