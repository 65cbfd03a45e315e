package authcmder_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	authcmder "github.com/papercomputeco/mnemo/cmd/mnemo/auth"
	"github.com/papercomputeco/mnemo/pkg/credentials"
)

var _ = Describe("Auth command", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	run := func(stdin string, args ...string) error {
		cmd := authcmder.NewAuthCmd()
		cmd.Flags().String("config-dir", dir, "")
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	stored := func(id string) string {
		mgr, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		key, err := mgr.GetKey(id)
		Expect(err).NotTo(HaveOccurred())
		return key
	}

	It("stores a piped key", func() {
		Expect(run("qd-secret\n", "vectors")).To(Succeed())
		Expect(stored("vectors")).To(Equal("qd-secret"))
		Expect(out.String()).To(ContainSubstring("MNEMO_BACKEND_VECTORS_API_KEY"))
	})

	It("rejects an empty key", func() {
		Expect(run("  \n", "vectors")).To(MatchError("API key cannot be empty"))
	})

	It("requires a backend id", func() {
		Expect(run("")).To(MatchError(ContainSubstring("backend id argument required")))
	})

	It("lists and removes stored keys", func() {
		Expect(run("k\n", "vectors")).To(Succeed())
		out.Reset()

		Expect(run("", "--list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("vectors"))

		Expect(run("", "--remove", "vectors")).To(Succeed())
		Expect(stored("vectors")).To(BeEmpty())
	})
})
