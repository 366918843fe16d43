package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/client"
	"github.com/serverkit/installer/internal/poller"
)

type InstallOptions struct {
	GlobalOptions

	File        string
	NoWait      bool
	SkipChecks  bool
	Interval    time.Duration
	MaxAttempts int
}

func DefaultInstallOptions() *InstallOptions {
	return &InstallOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Interval:      poller.DefaultInterval,
		MaxAttempts:   poller.DefaultMaxAttempts,
	}
}

func NewCmdInstall() *cobra.Command {
	o := DefaultInstallOptions()
	cmd := &cobra.Command{
		Use:   "install -f FILE",
		Short: "Submit an installation and follow its progress.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *InstallOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.File, "file", "f", o.File, "Installation configuration (yaml or json), - reads stdin")
	fs.BoolVar(&o.NoWait, "no-wait", o.NoWait, "Return once the installation is accepted")
	fs.BoolVar(&o.SkipChecks, "skip-checks", o.SkipChecks, "Submit without checking the host requirements and the database connection")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Time between two progress polls")
	fs.IntVar(&o.MaxAttempts, "max-attempts", o.MaxAttempts, "Number of polls before giving up")
}

func (o *InstallOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.File == "" {
		return fmt.Errorf("an installation configuration file is required")
	}
	if o.Interval <= 0 || o.MaxAttempts <= 0 {
		return fmt.Errorf("interval and max-attempts must be positive")
	}
	return nil
}

func (o *InstallOptions) Run(ctx context.Context, args []string) error {
	var cfg api.InstallConfig
	if err := readInstallConfig(o.File, &cfg); err != nil {
		return err
	}

	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	if !o.SkipChecks {
		if err := o.preflight(ctx, c, cfg); err != nil {
			return err
		}
	}

	resp, err := c.Submit(ctx, cfg)
	if err != nil {
		var rejected *client.ErrRejected
		if errors.As(err, &rejected) {
			return fmt.Errorf("installation rejected: %s", rejected.Message)
		}
		return err
	}

	fmt.Fprintf(o.out, "%s (job %s, session %s)\n", resp.Message, resp.JobId, c.Session())
	if err := o.RememberSession(c.Session()); err != nil {
		fmt.Fprintf(o.out, "warning: session not saved: %s\n", err)
	}
	if o.NoWait {
		return nil
	}

	p := poller.New(c, newTerminalView(o.out), poller.WithInterval(o.Interval), poller.WithMaxAttempts(o.MaxAttempts))
	return p.Run(ctx)
}

// preflight refuses to submit while a critical requirement fails or the
// database cannot be reached with the submitted credentials.
func (o *InstallOptions) preflight(ctx context.Context, c *client.Client, cfg api.InstallConfig) error {
	reqs, err := c.Requirements(ctx)
	if err != nil {
		return fmt.Errorf("checking requirements: %w", err)
	}
	if !reqs.CanProceed {
		return fmt.Errorf("installation blocked by: %s", strings.Join(reqs.Blocking, ", "))
	}
	for _, key := range reqs.Warnings {
		fmt.Fprintf(o.out, "warning: %s: %s\n", key, reqs.Checks[key].Message)
	}

	if cfg.Database == nil {
		return nil
	}
	db, err := c.TestDatabase(ctx, *cfg.Database)
	if err != nil {
		var rejected *client.ErrRejected
		if errors.As(err, &rejected) {
			return fmt.Errorf("invalid database settings: %s", rejected.Message)
		}
		return fmt.Errorf("testing database connection: %w", err)
	}
	if !db.Success {
		return fmt.Errorf("database connection failed: %s", db.Message)
	}
	fmt.Fprintln(o.out, db.Message)
	return nil
}

// terminalView prints the progress of an installation line by line.
type terminalView struct {
	out io.Writer
	now func() time.Time
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, now: time.Now}
}

func (v *terminalView) AppendLog(e api.LogEntry) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = v.now()
	}
	fmt.Fprintf(v.out, "[%s] %-7s %s\n", ts.Local().Format(time.TimeOnly), strings.ToUpper(e.Type), e.Message)
}

func (v *terminalView) SetProgress(progress int, label string) {
	fmt.Fprintf(v.out, "[%3d%%] %s\n", progress, label)
}
