package requirements_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/serverkit/installer/internal/opa"
	"github.com/serverkit/installer/internal/requirements"
	"github.com/serverkit/installer/internal/sysinfo"
)

const gib = 1024 * 1024 * 1024

var _ = Describe("requirements checker", func() {
	var (
		gate     *opa.Validator
		facts    sysinfo.Facts
		commands map[string]bool
		services map[string]bool
		opts     requirements.Options
	)

	BeforeEach(func() {
		var err error
		gate, err = opa.NewDefaultValidator()
		Expect(err).To(BeNil())

		facts = sysinfo.Facts{
			OS:          "linux",
			Platform:    "debian",
			Arch:        "amd64",
			UID:         0,
			DiskPath:    "/",
			DiskTotal:   100 * gib,
			DiskFree:    50 * gib,
			MemoryTotal: 4 * gib,
		}
		commands = map[string]bool{"psql": true, "nginx": true}
		services = map[string]bool{"nginx": true}
		opts = requirements.Options{
			MinDiskGB:   5,
			MinMemoryMB: 1024,
			DiskPath:    "/",
			WritableDir: filepath.Join(GinkgoT().TempDir(), "logs"),
			Commands:    []string{"psql", "nginx"},
			Services:    []string{"nginx"},
		}
	})

	newChecker := func() *requirements.Checker {
		return requirements.NewChecker(opts, gate,
			requirements.WithFacts(func(context.Context, string) (sysinfo.Facts, error) { return facts, nil }),
			requirements.WithLookPath(func(name string) (string, error) {
				if commands[name] {
					return "/usr/bin/" + name, nil
				}
				return "", errors.New("not found")
			}),
			requirements.WithServiceProbe(func(_ context.Context, name string) (bool, error) {
				return services[name], nil
			}),
		)
	}

	It("lets a healthy host proceed", func() {
		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.CanProceed).To(BeTrue())
		Expect(report.Blocking).To(BeEmpty())
		Expect(report.Checks).To(HaveKey("cmd_psql"))
		Expect(report.Checks).To(HaveKey("service_nginx"))
		Expect(report.Checks).To(HaveKey("disk_space"))
		Expect(report.Checks["log_directory"].Status).To(Equal(requirements.StatusPass))
		_, err = os.Stat(opts.WritableDir)
		Expect(err).To(BeNil())
	})

	It("blocks on a missing command", func() {
		delete(commands, "psql")

		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.CanProceed).To(BeFalse())
		Expect(report.Blocking).To(ConsistOf("cmd_psql"))
		Expect(report.Checks["cmd_psql"].Status).To(Equal(requirements.StatusFail))
		Expect(report.Checks["cmd_psql"].Category).To(Equal(requirements.CategoryCommand))
	})

	It("blocks on low disk space", func() {
		facts.DiskFree = 1 * gib

		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.Blocking).To(ConsistOf("disk_space"))
	})

	It("does not block on a stopped service or missing root", func() {
		services["nginx"] = false
		facts.UID = 1000
		facts.User = "deploy"

		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.CanProceed).To(BeTrue())
		Expect(report.Checks["service_nginx"].Status).To(Equal(requirements.StatusFail))
		Expect(report.Checks["service_nginx"].Category).To(Equal(requirements.CategoryService))
		Expect(report.Warnings).To(ContainElement("privileges"))
	})

	It("warns on memory below the recommendation", func() {
		facts.MemoryTotal = 768 * 1024 * 1024

		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.CanProceed).To(BeTrue())
		Expect(report.Checks["memory"].Status).To(Equal(requirements.StatusWarning))

		facts.MemoryTotal = 256 * 1024 * 1024
		report, err = newChecker().Run(context.TODO())
		Expect(err).To(BeNil())
		Expect(report.Blocking).To(ConsistOf("memory"))
	})

	It("groups checks by category", func() {
		report, err := newChecker().Run(context.TODO())
		Expect(err).To(BeNil())

		groups := report.ByCategory()
		Expect(groups[requirements.CategoryCommand]).To(HaveLen(2))
		Expect(groups[requirements.CategoryService]).To(HaveLen(1))
		Expect(groups[requirements.CategorySystem]).To(HaveKey("memory"))
	})

	It("fails a cancelled run", func() {
		ctx, cancel := context.WithCancel(context.TODO())
		cancel()
		_, err := newChecker().Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("CategoryOf", func() {
	DescribeTable("derives the category from the key",
		func(key string, expected requirements.Category) {
			Expect(requirements.CategoryOf(key)).To(Equal(expected))
		},
		Entry("command", "cmd_psql", requirements.CategoryCommand),
		Entry("service", "service_nginx", requirements.CategoryService),
		Entry("system", "disk_space", requirements.CategorySystem),
	)
})
