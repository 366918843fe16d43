package v1alpha1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	api "github.com/serverkit/installer/api/v1alpha1"
	handlers "github.com/serverkit/installer/internal/handlers/v1alpha1"
	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/opa"
	"github.com/serverkit/installer/internal/provision"
	"github.com/serverkit/installer/internal/requirements"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/internal/sysinfo"
)

type step struct {
	name  string
	block chan struct{}
}

func (s *step) Name() string        { return s.name }
func (s *step) Description() string { return s.name }
func (s *step) Run(ctx context.Context, env *provision.Env) error {
	env.Report.Info("working on "+s.name, nil)
	if s.block != nil {
		<-s.block
	}
	return nil
}

type prober struct{ err error }

func (p prober) Probe(context.Context, model.DatabaseConfig) error { return p.err }

const validBody = `{
	"database": {"db_host": "localhost", "db_root_user": "postgres", "db_root_pass": "rootpw", "db_name": "app", "db_user": "app", "db_pass": "apppassword"},
	"server": {"server_name": "example.test", "admin_email": "admin@example.test"}
}`

var _ = Describe("installer handlers", func() {
	var (
		srv     *httptest.Server
		pool    *provision.Pool
		s       *store.JobStore
		release chan struct{}
		probe   prober
	)

	BeforeEach(func() {
		s = store.NewJobStore(time.Hour)
		pool = provision.NewPool(4)
		release = make(chan struct{})
		probe = prober{}

		logs, err := joblog.NewManager(GinkgoT().TempDir())
		Expect(err).To(BeNil())

		gate, err := opa.NewDefaultValidator()
		Expect(err).To(BeNil())
		checker := requirements.NewChecker(requirements.Options{MinDiskGB: 1, MinMemoryMB: 1, Commands: []string{"psql"}}, gate,
			requirements.WithFacts(func(context.Context, string) (sysinfo.Facts, error) {
				return sysinfo.Facts{OS: "linux", DiskTotal: 10 << 30, DiskFree: 5 << 30, MemoryTotal: 2 << 30}, nil
			}),
			requirements.WithLookPath(func(string) (string, error) { return "", errors.New("missing") }),
		)

		steps := []provision.Step{&step{name: "packages", block: release}, &step{name: "database"}}
		h := handlers.NewServiceHandler(
			service.NewJobService(s, pool, provision.NewWorker(s, logs, steps)),
			service.NewConnectivityService(&probe),
			service.NewSupportService(logs, s, func(context.Context) (sysinfo.Facts, error) { return sysinfo.Facts{}, nil }),
			service.NewRequirementsService(checker),
			handlers.WithStreamInterval(5*time.Millisecond),
		)

		router := chi.NewRouter()
		h.Routes(router)
		srv = httptest.NewServer(router)
	})

	AfterEach(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		srv.Close()
		Expect(pool.Shutdown(context.TODO())).To(Succeed())
	})

	post := func(path, body string, session string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		Expect(err).To(BeNil())
		req.Header.Set("Content-Type", "application/json")
		if session != "" {
			req.Header.Set(api.SessionHeader, session)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		return resp
	}

	get := func(path string, session string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		Expect(err).To(BeNil())
		if session != "" {
			req.Header.Set(api.SessionHeader, session)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).To(BeNil())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Context("install", func() {
		It("rejects a submission without a server section", func() {
			resp := post("/api/v1/install", `{"database": {"db_host": "localhost"}}`, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body api.InstallResponse
			decode(resp, &body)
			Expect(body.Accepted).To(BeFalse())
			Expect(body.Message).To(ContainSubstring("server"))
			Expect(s.Len()).To(Equal(0))
			Expect(resp.Cookies()).To(BeEmpty())
			Expect(resp.Header.Get(api.SessionHeader)).To(BeEmpty())
		})

		It("rejects an empty body", func() {
			resp := post("/api/v1/install", "", "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body api.InstallResponse
			decode(resp, &body)
			Expect(body.Message).To(Equal("No data received"))
		})

		It("accepts a submission and hands out a session cookie", func() {
			resp := post("/api/v1/install", validBody, "")
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var body api.InstallResponse
			decode(resp, &body)
			Expect(body.Accepted).To(BeTrue())
			Expect(body.JobId).ToNot(BeEmpty())
			Expect(body.SessionId).ToNot(BeEmpty())
			Expect(resp.Header.Get(api.SessionHeader)).To(Equal(body.SessionId))

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == api.SessionCookie {
					cookie = c
				}
			}
			Expect(cookie).ToNot(BeNil())
			Expect(cookie.Value).To(Equal(body.SessionId))
		})

		It("rejects a second submission while running", func() {
			session := uuid.NewString()
			Expect(post("/api/v1/install", validBody, session).StatusCode).To(Equal(http.StatusAccepted))

			resp := post("/api/v1/install", validBody, session)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			var body api.InstallResponse
			decode(resp, &body)
			Expect(body.Accepted).To(BeFalse())
		})
	})

	Context("progress", func() {
		It("reports an unknown session", func() {
			resp := get("/api/v1/sessions/"+uuid.NewString()+"/progress", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			var body api.ProgressResponse
			decode(resp, &body)
			Expect(body.Status).To(Equal(api.JobStatusError))
			Expect(body.Progress).To(Equal(0))
			Expect(body.Message).To(Equal("no installation session found"))
			Expect(body.Logs).To(BeEmpty())
		})

		It("reports a request without any session", func() {
			resp := get("/api/v1/install/progress", "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("follows a job to completion", func() {
			session := uuid.NewString()
			Expect(post("/api/v1/install", validBody, session).StatusCode).To(Equal(http.StatusAccepted))
			close(release)

			var messages []string
			Eventually(func() api.JobStatus {
				resp := get("/api/v1/install/progress", session)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body api.ProgressResponse
				decode(resp, &body)
				for _, l := range body.Logs {
					messages = append(messages, l.Message)
				}
				return body.Status
			}).WithTimeout(5 * time.Second).WithPolling(5 * time.Millisecond).Should(Equal(api.JobStatusCompleted))

			Expect(messages).To(ContainElement("working on packages"))
			Expect(messages).To(ContainElement("Installation completed successfully"))
		})
	})

	Context("stream", func() {
		It("pushes updates until the job is done", func() {
			session := uuid.NewString()
			Expect(post("/api/v1/install", validBody, session).StatusCode).To(Equal(http.StatusAccepted))

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + session + "/stream"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).To(BeNil())
			defer conn.Close()

			close(release)

			var last api.ProgressResponse
			for !last.IsTerminal() {
				Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
				var update api.ProgressResponse
				Expect(conn.ReadJSON(&update)).To(Succeed())
				Expect(update.Progress).To(BeNumerically(">=", last.Progress))
				last = update
			}
			Expect(last.Status).To(Equal(api.JobStatusCompleted))
			Expect(last.Progress).To(Equal(100))
		})
	})

	Context("logs and support", func() {
		It("serves log channels and the support bundle", func() {
			session := uuid.NewString()
			Expect(post("/api/v1/install", validBody, session).StatusCode).To(Equal(http.StatusAccepted))
			close(release)
			<-pool.Done(session)

			resp := get("/api/v1/sessions/"+session+"/logs/main", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).To(BeNil())
			Expect(string(data)).To(ContainSubstring("Installation started"))
			Expect(string(data)).ToNot(ContainSubstring("apppassword"))

			resp = get("/api/v1/sessions/"+session+"/logs/audit", "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()

			resp = get("/api/v1/sessions/"+session+"/support", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/zip"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("installer-support-" + session))
			data, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(bytes.HasPrefix(data, []byte("PK"))).To(BeTrue())
		})
	})

	Context("system", func() {
		It("reports requirements", func() {
			resp := get("/api/v1/requirements", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body api.RequirementsResponse
			decode(resp, &body)
			Expect(body.CanProceed).To(BeFalse())
			Expect(body.Blocking).To(ConsistOf("cmd_psql"))
			Expect(body.Checks["cmd_psql"].Category).To(Equal("command"))
		})

		It("tests database connectivity", func() {
			body := `{"db_host": "localhost", "db_root_user": "postgres", "db_root_pass": "rootpw", "db_name": "app", "db_user": "app", "db_pass": "apppassword"}`
			resp := post("/api/v1/database/test", body, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result api.DatabaseTestResponse
			decode(resp, &result)
			Expect(result.Success).To(BeTrue())

			probe.err = errors.New("connection refused")
			resp = post("/api/v1/database/test", body, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &result)
			Expect(result.Success).To(BeFalse())
			Expect(result.Message).To(ContainSubstring("connection refused"))

			resp = post("/api/v1/database/test", `{"db_host": "localhost"}`, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("answers health checks", func() {
			resp := get("/health", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})
})
