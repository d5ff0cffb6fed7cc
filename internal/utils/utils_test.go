package utils_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/archon-install/archon/internal/utils"
)

var _ = Describe("CreateIfNotExists", func() {
	It("creates missing directories recursively", func() {
		dir := filepath.Join(GinkgoT().TempDir(), "a", "b", "c")
		Expect(utils.CreateIfNotExists(dir)).To(Succeed())
		info, err := os.Stat(dir)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("leaves an existing directory alone", func() {
		dir := GinkgoT().TempDir()
		Expect(utils.CreateIfNotExists(dir)).To(Succeed())
	})
})

var _ = Describe("ShellRunner", func() {
	It("returns command output", func() {
		out, err := utils.ShellRunner{}.Run("echo hello")
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("hello"))
	})

	It("surfaces failures", func() {
		_, err := utils.ShellRunner{}.Run("false")
		Expect(err).To(HaveOccurred())
	})
})
