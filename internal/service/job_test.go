package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/provision"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
)

type testStep struct {
	name string
	run  func(ctx context.Context, env *provision.Env) error
}

func (s *testStep) Name() string        { return s.name }
func (s *testStep) Description() string { return "running " + s.name }
func (s *testStep) Run(ctx context.Context, env *provision.Env) error {
	env.Report.Info(s.name+" done", map[string]any{"db_pass": env.Config.Database.Password})
	if s.run != nil {
		return s.run(ctx, env)
	}
	return nil
}

func steps(names ...string) []provision.Step {
	out := make([]provision.Step, 0, len(names))
	for _, n := range names {
		out = append(out, &testStep{name: n})
	}
	return out
}

func installConfig() *model.InstallConfig {
	return &model.InstallConfig{
		Database: &model.DatabaseConfig{
			Host:         "localhost",
			RootUser:     "postgres",
			RootPassword: "rootsecret",
			Name:         "app",
			User:         "app",
			Password:     "apppassword",
		},
		Server: &model.ServerConfig{
			ServerName: "example.test",
			AdminEmail: "admin@example.test",
		},
	}
}

func pollUntilTerminal(srv *service.JobService, session string) ([]model.PollResult, []model.LogEntry) {
	var (
		results []model.PollResult
		logs    []model.LogEntry
	)
	Eventually(func() model.JobStatus {
		r, err := srv.Poll(context.TODO(), session)
		Expect(err).To(BeNil())
		results = append(results, *r)
		logs = append(logs, r.Logs...)
		return r.Status
	}).WithTimeout(5 * time.Second).WithPolling(5 * time.Millisecond).Should(Or(Equal(model.JobStatusCompleted), Equal(model.JobStatusError)))
	return results, logs
}

var _ = Describe("job service", func() {
	var (
		s       *store.JobStore
		pool    *provision.Pool
		logs    *joblog.Manager
		session string
	)

	BeforeEach(func() {
		var err error
		s = store.NewJobStore(time.Hour)
		pool = provision.NewPool(2)
		logs, err = joblog.NewManager(GinkgoT().TempDir())
		Expect(err).To(BeNil())
		session = uuid.NewString()
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
		defer cancel()
		Expect(pool.Shutdown(ctx)).To(Succeed())
	})

	newService := func(st ...provision.Step) *service.JobService {
		return service.NewJobService(s, pool, provision.NewWorker(s, logs, st))
	}

	Context("Submit", func() {
		It("rejects a missing configuration without creating a job", func() {
			_, err := newService().Submit(context.TODO(), session, nil)
			Expect(err).ToNot(BeNil())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))
			Expect(s.Len()).To(Equal(0))
		})

		It("rejects a configuration without a database section", func() {
			cfg := installConfig()
			cfg.Database = nil

			_, err := newService().Submit(context.TODO(), session, cfg)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))
			Expect(err.Error()).To(ContainSubstring("database"))
			Expect(s.Len()).To(Equal(0))
		})

		It("rejects a configuration without a server section", func() {
			cfg := installConfig()
			cfg.Server = nil

			_, err := newService().Submit(context.TODO(), session, cfg)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))
			Expect(s.Len()).To(Equal(0))
		})

		It("rejects an unsafe session identifier", func() {
			_, err := newService().Submit(context.TODO(), "../../etc", installConfig())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrSubmission{}))
		})

		It("returns before the job finishes", func() {
			release := make(chan struct{})
			srv := newService(&testStep{name: "packages", run: func(ctx context.Context, _ *provision.Env) error {
				<-release
				return nil
			}})

			info, err := srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeNil())
			Expect(info.ID).ToNot(Equal(uuid.Nil))
			Expect(info.Status).To(Equal(model.JobStatusPending))

			job, err := srv.Get(context.TODO(), session)
			Expect(err).To(BeNil())
			Expect(job.Status.IsTerminal()).To(BeFalse())

			close(release)
			<-pool.Done(session)
		})

		It("rejects a second submission while the first is running", func() {
			release := make(chan struct{})
			srv := newService(&testStep{name: "packages", run: func(ctx context.Context, _ *provision.Env) error {
				<-release
				return nil
			}})

			first, err := srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeNil())

			_, err = srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobInProgress{}))

			close(release)
			<-pool.Done(session)

			second, err := srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeNil())
			Expect(second.ID).ToNot(Equal(first.ID))
			<-pool.Done(session)
		})

		It("fails the job when no worker can be started", func() {
			full := provision.NewPool(1)
			defer func() { Expect(full.Shutdown(context.TODO())).To(Succeed()) }()

			release := make(chan struct{})
			Expect(full.Spawn("other", func(context.Context) { <-release })).To(Succeed())
			defer close(release)

			srv := service.NewJobService(s, full, provision.NewWorker(s, logs, steps("packages")))
			_, err := srv.Submit(context.TODO(), session, installConfig())

			var spawnErr *service.ErrSpawn
			Expect(errors.As(err, &spawnErr)).To(BeTrue())
			Expect(errors.Is(err, provision.ErrPoolFull)).To(BeTrue())

			result, err := srv.Poll(context.TODO(), session)
			Expect(err).To(BeNil())
			Expect(result.Status).To(Equal(model.JobStatusError))
			Expect(result.Message).ToNot(BeEmpty())
			Expect(result.Logs).To(HaveLen(1))
		})
	})

	Context("Poll", func() {
		It("reports an unknown session without creating it", func() {
			result, err := newService().Poll(context.TODO(), session)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))
			Expect(result.Status).To(Equal(model.JobStatusError))
			Expect(result.Progress).To(Equal(0))
			Expect(result.Message).To(Equal("no installation session found"))
			Expect(s.Len()).To(Equal(0))
		})

		It("runs a job to completion through every progress band", func() {
			srv := newService(steps("packages", "database", "webserver", "deploy", "finalize")...)

			_, err := srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeNil())

			results, delivered := pollUntilTerminal(srv, session)
			last := results[len(results)-1]
			Expect(last.Status).To(Equal(model.JobStatusCompleted))
			Expect(last.Progress).To(Equal(100))

			for i := 1; i < len(results); i++ {
				Expect(results[i].Progress).To(BeNumerically(">=", results[i-1].Progress))
			}

			messages := []string{}
			for _, e := range delivered {
				messages = append(messages, e.Message)
				Expect(e.Context).ToNot(HaveKeyWithValue("db_pass", "apppassword"))
			}
			Expect(messages).To(ContainElements(
				"Step 1: packages - completed",
				"Step 4: deploy - completed",
				"Installation completed successfully",
			))

			seen := map[string]int{}
			for _, m := range messages {
				seen[m]++
			}
			for m, n := range seen {
				Expect(n).To(Equal(1), m)
			}

			again, err := srv.Poll(context.TODO(), session)
			Expect(err).To(BeNil())
			Expect(again.Status).To(Equal(model.JobStatusCompleted))
			Expect(again.Progress).To(Equal(100))
			Expect(again.Logs).To(BeEmpty())
		})

		It("freezes progress when a step fails", func() {
			srv := newService(
				&testStep{name: "packages"},
				&testStep{name: "database", run: func(context.Context, *provision.Env) error {
					return errors.New("password authentication failed for apppassword")
				}},
				&testStep{name: "webserver"},
			)

			_, err := srv.Submit(context.TODO(), session, installConfig())
			Expect(err).To(BeNil())

			results, _ := pollUntilTerminal(srv, session)
			last := results[len(results)-1]
			Expect(last.Status).To(Equal(model.JobStatusError))
			Expect(last.Progress).To(Equal(33))
			Expect(last.Message).To(ContainSubstring("database"))
			Expect(last.Message).ToNot(ContainSubstring("apppassword"))

			for i := 0; i < 3; i++ {
				again, err := srv.Poll(context.TODO(), session)
				Expect(err).To(BeNil())
				Expect(again.Status).To(Equal(model.JobStatusError))
				Expect(again.Progress).To(Equal(33))
				Expect(again.Logs).To(BeEmpty())
			}
		})
	})
})
