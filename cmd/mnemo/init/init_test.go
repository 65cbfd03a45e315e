package initcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/mnemo/cmd/mnemo/init"
	"github.com/papercomputeco/mnemo/pkg/config"
)

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has a --preset flag", func() {
		cmd := initcmder.NewInitCmd()
		f := cmd.Flags().Lookup("preset")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(""))
	})
})

var _ = Describe("Init command execution", func() {
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
		Expect(os.Chdir(tmpDir)).To(Succeed())
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
	})

	run := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	It("creates .mnemo in the working directory", func() {
		Expect(run()).To(Succeed())

		info, err := os.Stat(filepath.Join(tmpDir, ".mnemo"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
		Expect(out.String()).To(ContainSubstring("Initialized .mnemo directory"))
	})

	It("is idempotent without a preset", func() {
		Expect(run()).To(Succeed())
		Expect(run()).To(Succeed())
	})

	It("writes the sqlite preset", func() {
		Expect(run("--preset", "sqlite")).To(Succeed())

		data, err := os.ReadFile(filepath.Join(tmpDir, ".mnemo", "config.toml"))
		Expect(err).NotTo(HaveOccurred())

		var cfg config.Config
		_, err = toml.Decode(string(data), &cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Memory.Backends).To(HaveLen(2))
		Expect(cfg.Memory.Backends[0].Provider).To(Equal(config.ProviderSQLite))
		Expect(cfg.Memory.Backends[1].Provider).To(Equal(config.ProviderSQLiteVec))
	})

	It("refuses to overwrite config.toml without --force", func() {
		Expect(run("--preset", "local")).To(Succeed())
		Expect(run("--preset", "sqlite")).To(MatchError(ContainSubstring("use --force")))
		Expect(run("--preset", "sqlite", "--force")).To(Succeed())
	})

	It("rejects unknown presets before creating anything", func() {
		Expect(run("--preset", "nope")).To(MatchError(ContainSubstring("unknown preset")))

		_, err := os.Stat(filepath.Join(tmpDir, ".mnemo"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
