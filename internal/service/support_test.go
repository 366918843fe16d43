package service_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/internal/sysinfo"
)

var _ = Describe("support service", func() {
	var (
		logs    *joblog.Manager
		s       *store.JobStore
		srv     *service.SupportService
		session string
	)

	BeforeEach(func() {
		var err error
		logs, err = joblog.NewManager(GinkgoT().TempDir())
		Expect(err).To(BeNil())
		s = store.NewJobStore(time.Hour)
		session = uuid.NewString()
		srv = service.NewSupportService(logs, s, func(context.Context) (sysinfo.Facts, error) {
			return sysinfo.Facts{Hostname: "web-01", OS: "linux"}, nil
		})

		logger, err := logs.Logger(session)
		Expect(err).To(BeNil())
		_, err = logger.Info("Installation started", nil)
		Expect(err).To(BeNil())
		_, err = logger.Error("Step 2: database - failed", nil)
		Expect(err).To(BeNil())
		_, err = logger.Debug("Configuration: installation", map[string]any{"db_pass": "hunter22"})
		Expect(err).To(BeNil())
	})

	It("returns a single channel", func() {
		content, err := srv.Logs(context.TODO(), session, "error")
		Expect(err).To(BeNil())
		Expect(content).To(ContainSubstring("Step 2: database - failed"))
		Expect(content).ToNot(ContainSubstring("Installation started"))
	})

	It("rejects unknown channels and sessions", func() {
		_, err := srv.Logs(context.TODO(), session, "audit")
		Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidLogChannel{}))

		_, err = srv.Logs(context.TODO(), "../secret", "main")
		Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))
	})

	It("bundles the logs, the job and the host facts", func() {
		Expect(s.Create(session, model.NewJob(session, *installConfig()))).To(Succeed())

		var buf bytes.Buffer
		Expect(srv.WriteBundle(context.TODO(), session, &buf)).To(Succeed())

		zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		Expect(err).To(BeNil())

		files := map[string]string{}
		for _, f := range zr.File {
			rc, err := f.Open()
			Expect(err).To(BeNil())
			data, err := io.ReadAll(rc)
			Expect(err).To(BeNil())
			_ = rc.Close()
			files[f.Name] = string(data)
		}

		Expect(files).To(HaveKey("logs/main.log"))
		Expect(files).To(HaveKey("logs/error.log"))
		Expect(files).To(HaveKey("logs/debug.log"))
		Expect(files["logs/debug.log"]).ToNot(ContainSubstring("hunter22"))

		var info map[string]any
		Expect(json.Unmarshal([]byte(files["support.json"]), &info)).To(Succeed())
		Expect(info["session_id"]).To(Equal(session))
		Expect(info["system"]).To(HaveKeyWithValue("hostname", "web-01"))
		Expect(info["job"]).To(HaveKeyWithValue("status", "pending"))
		Expect(files["support.json"]).ToNot(ContainSubstring("rootsecret"))

		Expect(srv.BundleName(session)).To(HavePrefix("installer-support-" + session))
	})
})
