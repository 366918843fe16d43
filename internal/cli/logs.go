package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
)

var (
	legalChannels = []string{"main", "error", "debug"}
)

type LogsOptions struct {
	GlobalOptions

	Channel       string
	SupportBundle string
}

func DefaultLogsOptions() *LogsOptions {
	return &LogsOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Channel:       "main",
	}
}

func NewCmdLogs() *cobra.Command {
	o := DefaultLogsOptions()
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the log of an installation or download its support bundle.",
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

func (o *LogsOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.Channel, "channel", o.Channel, fmt.Sprintf("Log channel. One of: (%s).", strings.Join(legalChannels, ", ")))
	fs.StringVar(&o.SupportBundle, "support-bundle", o.SupportBundle, "Write the support bundle (zip) to this file instead of printing a log")
}

func (o *LogsOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.requireSession(); err != nil {
		return err
	}
	if !funk.ContainsString(legalChannels, o.Channel) {
		return fmt.Errorf("channel must be one of %s", strings.Join(legalChannels, ", "))
	}
	return nil
}

func (o *LogsOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	if o.SupportBundle != "" {
		f, err := os.Create(o.SupportBundle)
		if err != nil {
			return fmt.Errorf("creating %s: %w", o.SupportBundle, err)
		}
		n, err := c.SupportBundle(ctx, o.Session, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(o.SupportBundle)
			return fmt.Errorf("downloading support bundle: %w", err)
		}
		fmt.Fprintf(o.out, "support bundle written to %s (%d bytes)\n", o.SupportBundle, n)
		return nil
	}

	content, err := c.Logs(ctx, o.Session, o.Channel)
	if err != nil {
		return fmt.Errorf("reading %s log: %w", o.Channel, err)
	}
	fmt.Fprint(o.out, content)
	return nil
}
