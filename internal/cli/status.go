package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/serverkit/installer/internal/poller"
)

type StatusOptions struct {
	GlobalOptions

	Output string
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the progress of an installation and the log entries since the last check.",
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

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *StatusOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.requireSession(); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *StatusOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	resp, err := c.Poll(ctx)
	if err != nil {
		return fmt.Errorf("reading installation progress: %w", err)
	}

	if done, err := printStructured(o.out, o.Output, resp); done {
		return err
	}

	fmt.Fprintf(o.out, "Session:  %s\n", c.Session())
	fmt.Fprintf(o.out, "Status:   %s\n", resp.Status)
	fmt.Fprintf(o.out, "Progress: %d%% (%s)\n", resp.Progress, poller.Label(resp.Progress))
	if resp.Message != "" {
		fmt.Fprintf(o.out, "Message:  %s\n", resp.Message)
	}
	view := newTerminalView(o.out)
	for _, l := range resp.Logs {
		view.AppendLog(l)
	}
	return nil
}
