package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/client"
	"github.com/serverkit/installer/pkg/requestid"
)

var _ = Describe("installer client", func() {
	var (
		server *httptest.Server
		mux    *http.ServeMux
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
	})

	AfterEach(func() {
		server.Close()
	})

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	Describe("Submit", func() {
		It("binds the client to the session handed out by the server", func() {
			mux.HandleFunc("/api/v1/install", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(r.Header.Get(api.SessionHeader)).To(BeEmpty())

				var body api.InstallConfig
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body.Server.ServerName).To(Equal("example.test"))

				w.Header().Set(api.SessionHeader, "session-1")
				writeJSON(w, http.StatusAccepted, api.InstallResponse{Accepted: true, JobId: "job-1", SessionId: "session-1", Message: "Installation started"})
			})
			mux.HandleFunc("/api/v1/sessions/session-1/progress", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get(api.SessionHeader)).To(Equal("session-1"))
				writeJSON(w, http.StatusOK, api.ProgressResponse{Status: api.JobStatusRunning, Progress: 20, Logs: []api.LogEntry{}})
			})

			c := client.New(server.URL)
			resp, err := c.Submit(ctx, api.InstallConfig{
				Database: &api.DatabaseConfig{Host: "localhost"},
				Server:   &api.ServerConfig{ServerName: "example.test"},
			})
			Expect(err).To(BeNil())
			Expect(resp.Accepted).To(BeTrue())
			Expect(c.Session()).To(Equal("session-1"))

			progress, err := c.Poll(ctx)
			Expect(err).To(BeNil())
			Expect(progress.Progress).To(Equal(20))
		})

		It("surfaces a rejection", func() {
			mux.HandleFunc("/api/v1/install", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusConflict, api.InstallResponse{Accepted: false, Message: "an installation is already running"})
			})

			resp, err := client.New(server.URL, client.WithSession("s")).Submit(ctx, api.InstallConfig{})
			var rejected *client.ErrRejected
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(rejected.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.Accepted).To(BeFalse())
			Expect(resp.Message).To(ContainSubstring("already running"))
		})
	})

	Describe("Poll", func() {
		It("requires a session", func() {
			_, err := client.New(server.URL).Poll(ctx)
			Expect(err).ToNot(BeNil())
		})

		It("returns the not found body of an unknown session", func() {
			mux.HandleFunc("/api/v1/sessions/gone/progress", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, api.ProgressResponse{Status: api.JobStatusError, Message: "no installation session found", Logs: []api.LogEntry{}})
			})

			progress, err := client.New(server.URL, client.WithSession("gone")).Poll(ctx)
			Expect(err).To(BeNil())
			Expect(progress.Status).To(Equal(api.JobStatusError))
			Expect(progress.Message).To(Equal("no installation session found"))
		})

		It("fails on server errors", func() {
			mux.HandleFunc("/api/v1/sessions/s/progress", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, api.Error{Message: "boom"})
			})

			_, err := client.New(server.URL, client.WithSession("s")).Poll(ctx)
			var rejected *client.ErrRejected
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(rejected.Message).To(Equal("boom"))
		})

		It("propagates the request id", func() {
			mux.HandleFunc("/api/v1/sessions/s/progress", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Header.Get(requestid.Header)).To(Equal("req-1"))
				writeJSON(w, http.StatusOK, api.ProgressResponse{Status: api.JobStatusPending})
			})

			_, err := client.New(server.URL, client.WithSession("s")).Poll(requestid.ToContext(ctx, "req-1"))
			Expect(err).To(BeNil())
		})
	})

	Describe("system endpoints", func() {
		It("reads requirements, logs and the support bundle", func() {
			mux.HandleFunc("/api/v1/requirements", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, api.RequirementsResponse{CanProceed: true, Checks: map[string]api.RequirementCheck{"os": {Status: "pass"}}})
			})
			mux.HandleFunc("/api/v1/sessions/s/logs/main", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("[2024-01-01 00:00:00] [INFO] Installation started\n"))
			})
			mux.HandleFunc("/api/v1/sessions/s/support", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/zip")
				_, _ = w.Write([]byte("PK\x03\x04"))
			})

			c := client.New(server.URL)
			req, err := c.Requirements(ctx)
			Expect(err).To(BeNil())
			Expect(req.CanProceed).To(BeTrue())
			Expect(req.Checks).To(HaveKey("os"))

			logs, err := c.Logs(ctx, "s", "main")
			Expect(err).To(BeNil())
			Expect(logs).To(ContainSubstring("Installation started"))

			var buf bytes.Buffer
			n, err := c.SupportBundle(ctx, "s", &buf)
			Expect(err).To(BeNil())
			Expect(n).To(BeEquivalentTo(4))
		})

		It("reports a failed database test", func() {
			mux.HandleFunc("/api/v1/database/test", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, api.DatabaseTestResponse{Success: false, Message: "Database connection failed: refused"})
			})

			resp, err := client.New(server.URL).TestDatabase(ctx, api.DatabaseConfig{Host: "db"})
			Expect(err).To(BeNil())
			Expect(resp.Success).To(BeFalse())
		})

		It("fails when the server is down", func() {
			server.Close()
			Expect(client.New(server.URL).HealthCheck(ctx)).ToNot(Succeed())
		})
	})

	Describe("config", func() {
		It("round trips a config file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "nested", "client.yaml")
			Expect(client.WriteConfig(path, server.URL, "abc")).To(Succeed())

			cfg, err := client.ParseConfigFile(path)
			Expect(err).To(BeNil())
			Expect(cfg.Service.Server).To(Equal(server.URL))
			Expect(cfg.Service.Session).To(Equal("abc"))

			c, err := client.NewFromConfig(cfg)
			Expect(err).To(BeNil())
			Expect(c.Session()).To(Equal("abc"))
		})

		It("rejects a config without server", func() {
			path := filepath.Join(GinkgoT().TempDir(), "client.yaml")
			Expect(os.WriteFile(path, []byte("service:\n  session: abc\n"), 0o600)).To(Succeed())

			_, err := client.ParseConfigFile(path)
			Expect(err).To(MatchError(ContainSubstring("no server found")))
		})
	})
})
