package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/mnemo/cmd/mnemo/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		tmpDir = GinkgoT().TempDir()

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// A local .mnemo dir is picked up by the dotdir manager.
		Expect(os.MkdirAll(filepath.Join(tmpDir, ".mnemo"), 0o755)).To(Succeed())
		Expect(os.Chdir(tmpDir)).To(Succeed())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
	})

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	Describe("set subcommand", func() {
		It("sets a config value and writes config.toml", func() {
			Expect(run("set", "memory.strategy", "cascade")).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tmpDir, ".mnemo", "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`strategy = "cascade"`))
		})

		It("rejects unknown keys", func() {
			Expect(run("set", "invalid_key", "value")).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects values that fail validation", func() {
			Expect(run("set", "compaction.warning_threshold", "0.99")).To(HaveOccurred())

			_, err := os.Stat(filepath.Join(tmpDir, ".mnemo", "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "memory.strategy")).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("reads back a set value", func() {
			Expect(run("set", "api.listen", ":9000")).To(Succeed())
			out.Reset()

			Expect(run("get", "api.listen")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(":9000"))
		})

		It("falls back to defaults", func() {
			Expect(run("get", "memory.strategy")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("parallel"))
		})
	})

	Describe("list subcommand", func() {
		It("lists every key", func() {
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("log.level"))
			Expect(out.String()).To(ContainSubstring("compaction.warning_threshold"))
		})
	})
})
