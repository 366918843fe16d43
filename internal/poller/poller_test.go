package poller_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/poller"
)

type scriptedSource struct {
	mu        sync.Mutex
	responses []*api.ProgressResponse
	err       error
	calls     int
	inFlight  int
	overlap   bool
}

func (s *scriptedSource) Poll(ctx context.Context) (*api.ProgressResponse, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap = true
	}
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.err != nil && idx == len(s.responses) {
		return nil, s.err
	}
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

type recordingView struct {
	mu       sync.Mutex
	logs     []api.LogEntry
	progress []int
	labels   []string
}

func (v *recordingView) AppendLog(e api.LogEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.logs = append(v.logs, e)
}

func (v *recordingView) SetProgress(p int, label string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.progress = append(v.progress, p)
	v.labels = append(v.labels, label)
}

func (v *recordingView) messages() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.logs))
	for _, l := range v.logs {
		out = append(out, l.Message)
	}
	return out
}

func running(progress int, messages ...string) *api.ProgressResponse {
	logs := []api.LogEntry{}
	for _, m := range messages {
		logs = append(logs, api.LogEntry{Type: "info", Message: m})
	}
	return &api.ProgressResponse{Status: api.JobStatusRunning, Progress: progress, Logs: logs}
}

var _ = Describe("poller", func() {
	var (
		view *recordingView
		opts []poller.Option
	)

	BeforeEach(func() {
		view = &recordingView{}
		opts = []poller.Option{
			poller.WithInterval(time.Millisecond),
			poller.WithJitter(&jitterbug.Norm{}),
		}
	})

	It("starts idle", func() {
		p := poller.New(&scriptedSource{}, view)
		Expect(p.State()).To(Equal(poller.StateIdle))
		Expect(p.Progress()).To(Equal(0))
	})

	It("follows a job to completion", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{
			running(0, "Installation started"),
			running(20, "Step 1: packages - completed"),
			running(40),
			running(60, "Step 3: webserver - completed"),
			running(80),
			{Status: api.JobStatusCompleted, Progress: 100, Logs: []api.LogEntry{{Type: "info", Message: "Installation completed successfully"}}},
		}}
		p := poller.New(source, view, opts...)

		Expect(p.Run(context.Background())).To(Succeed())
		Expect(p.State()).To(Equal(poller.StateCompleted))
		Expect(p.Progress()).To(Equal(100))
		Expect(p.Attempts()).To(Equal(6))
		Expect(source.overlap).To(BeFalse())

		Expect(view.progress).To(Equal([]int{0, 20, 40, 60, 80, 100}))
		Expect(view.labels[0]).To(Equal("Installing system packages..."))
		Expect(view.labels[len(view.labels)-1]).To(Equal("Installation complete!"))
		Expect(view.messages()).To(Equal([]string{
			"Installation started",
			"Step 1: packages - completed",
			"Step 3: webserver - completed",
			"Installation completed successfully",
			"Installation completed successfully!",
		}))
	})

	It("never shows progress going backwards", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{
			running(40),
			running(20),
			running(40),
			{Status: api.JobStatusCompleted, Progress: 100},
		}}
		Expect(poller.New(source, view, opts...).Run(context.Background())).To(Succeed())
		Expect(view.progress).To(Equal([]int{40, 100}))
	})

	It("stops on a failed job", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{
			running(20),
			{Status: api.JobStatusError, Progress: 20, Message: "Step 2 (database) failed: permission denied"},
		}}
		p := poller.New(source, view, opts...)

		err := p.Run(context.Background())
		var failed *poller.ErrJobFailed
		Expect(errors.As(err, &failed)).To(BeTrue())
		Expect(failed.Message).To(ContainSubstring("permission denied"))
		Expect(p.State()).To(Equal(poller.StateErrorStopped))
		Expect(p.Progress()).To(Equal(20))
		Expect(view.messages()).To(ContainElement("Installation failed: Step 2 (database) failed: permission denied"))
	})

	It("stops on an unknown session", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{
			{Status: api.JobStatusError, Progress: 0, Message: "no installation session found"},
		}}
		p := poller.New(source, view, opts...)

		Expect(p.Run(context.Background())).ToNot(Succeed())
		Expect(p.State()).To(Equal(poller.StateErrorStopped))
		Expect(p.Attempts()).To(Equal(1))
	})

	It("times out after the maximum number of attempts", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{running(20)}}
		p := poller.New(source, view, append(opts, poller.WithMaxAttempts(3))...)

		Expect(p.Run(context.Background())).To(MatchError(poller.ErrPollTimeout))
		Expect(p.State()).To(Equal(poller.StateTimedOut))
		Expect(p.Attempts()).To(Equal(3))
		Expect(source.calls).To(Equal(3))
		Expect(view.messages()).To(ContainElement("Installation timeout. Please check the server logs."))
	})

	It("stops without retrying on a transport failure", func() {
		source := &scriptedSource{
			responses: []*api.ProgressResponse{running(20)},
			err:       errors.New("connection refused"),
		}
		p := poller.New(source, view, opts...)

		err := p.Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(p.State()).To(Equal(poller.StateErrorStopped))
		Expect(source.calls).To(Equal(2))
	})

	It("abandons the loop when the context is cancelled", func() {
		source := &scriptedSource{responses: []*api.ProgressResponse{running(20)}}
		p := poller.New(source, view, poller.WithInterval(time.Hour), poller.WithJitter(&jitterbug.Norm{}))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		Eventually(p.Attempts).Should(Equal(1))
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(source.calls).To(Equal(1))
	})

	DescribeTable("progress labels",
		func(progress int, label string) {
			Expect(poller.Label(progress)).To(Equal(label))
		},
		Entry("start", 0, "Installing system packages..."),
		Entry("database", 20, "Configuring database..."),
		Entry("webserver", 59, "Setting up web server..."),
		Entry("deploy", 60, "Installing application files..."),
		Entry("finalize", 80, "Finalizing configuration..."),
		Entry("done", 100, "Installation complete!"),
	)
})
