package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/archon-install/archon/pkg/config"
	"github.com/archon-install/archon/pkg/device"
)

var _ = Describe("size normalization", func() {
	It("injects the default unit for bare numbers", func() {
		Expect(config.NormalizeSize("8")).To(Equal("8G"))
	})
	It("keeps valid units", func() {
		Expect(config.NormalizeSize("512M")).To(Equal("512M"))
		Expect(config.NormalizeSize("1G")).To(Equal("1G"))
		Expect(config.NormalizeSize("64K")).To(Equal("64K"))
	})
	It("uppercases lowercase units", func() {
		Expect(config.NormalizeSize("2g")).To(Equal("2G"))
	})
	It("coerces invalid units instead of rejecting", func() {
		Expect(config.NormalizeSize("8X")).To(Equal("8G"))
		Expect(config.NormalizeSize("3 potatoes")).To(Equal("3G"))
	})
	It("trims whitespace", func() {
		Expect(config.NormalizeSize(" 16 ")).To(Equal("16G"))
	})
	It("rejects input without a number", func() {
		_, err := config.NormalizeSize("lots")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("topology parsing", func() {
	It("maps menu answers", func() {
		Expect(config.ParseTopology("1")).To(Equal(config.EncryptedBoot))
		Expect(config.ParseTopology("2")).To(Equal(config.UnencryptedBoot))
	})
	It("maps names", func() {
		Expect(config.ParseTopology("encrypted-boot")).To(Equal(config.EncryptedBoot))
		Expect(config.ParseTopology("UNENCRYPTED")).To(Equal(config.UnencryptedBoot))
	})
	It("rejects unknown values", func() {
		_, err := config.ParseTopology("both")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("config validation", func() {
	valid := func() config.Config {
		return config.Config{
			Device:   device.New("vda"),
			Topology: config.EncryptedBoot,
			BootSize: "1G",
			SwapSize: "8G",
			Erase:    config.EraseQuick,
		}
	}

	It("accepts a complete config", func() {
		Expect(valid().Validate()).To(Succeed())
	})
	It("rejects a missing device", func() {
		c := valid()
		c.Device = device.Device{}
		Expect(c.Validate()).ToNot(Succeed())
	})
	It("rejects an unknown topology", func() {
		c := valid()
		c.Topology = "sideways"
		Expect(c.Validate()).ToNot(Succeed())
	})
	It("rejects an unknown erase mode", func() {
		c := valid()
		c.Erase = "pretend"
		Expect(c.Validate()).ToNot(Succeed())
	})
})

var _ = Describe("hostname validation", func() {
	It("accepts normal hostnames", func() {
		Expect(config.ValidHostname("archon")).To(Succeed())
		Expect(config.ValidHostname("web-01")).To(Succeed())
	})
	It("rejects invalid hostnames", func() {
		Expect(config.ValidHostname("")).ToNot(Succeed())
		Expect(config.ValidHostname("-leading")).ToNot(Succeed())
		Expect(config.ValidHostname("has spaces")).ToNot(Succeed())
	})
})

var _ = Describe("answer file", func() {
	It("loads a yaml answer file", func() {
		dir, err := os.MkdirTemp("", "")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "answers.yaml")
		content := "device: vda\ntopology: encrypted-boot\nboot_size: 1G\nswap_size: 8G\nerase: secure\nhostname: testbox\n"
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())

		a, err := config.LoadAnswers(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Device).To(Equal("vda"))
		Expect(a.Erase).To(Equal("secure"))
		Expect(a.Hostname).To(Equal("testbox"))
	})
	It("returns empty answers for an empty path", func() {
		a, err := config.LoadAnswers("")
		Expect(err).ToNot(HaveOccurred())
		Expect(a).To(Equal(config.Answers{}))
	})
	It("fails on a missing file", func() {
		_, err := config.LoadAnswers("/nonexistent/answers.yaml")
		Expect(err).To(HaveOccurred())
	})
})
