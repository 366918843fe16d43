package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/client"
)

type RequirementsOptions struct {
	GlobalOptions

	Output string
}

func DefaultRequirementsOptions() *RequirementsOptions {
	return &RequirementsOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdRequirements() *cobra.Command {
	o := DefaultRequirementsOptions()
	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Check whether the host can run an installation.",
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

func (o *RequirementsOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *RequirementsOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *RequirementsOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	resp, err := c.Requirements(ctx)
	if err != nil {
		return fmt.Errorf("checking requirements: %w", err)
	}

	if done, err := printStructured(o.out, o.Output, resp); done {
		return err
	}

	w := tabwriter.NewWriter(o.out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "CHECK\tCATEGORY\tSTATUS\tCRITICAL\tMESSAGE")
	keys := make([]string, 0, len(resp.Checks))
	for k := range resp.Checks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		check := resp.Checks[k]
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", k, check.Category, check.Status, check.Critical, check.Message)
	}
	_ = w.Flush()

	if !resp.CanProceed {
		return fmt.Errorf("installation blocked by: %s", strings.Join(resp.Blocking, ", "))
	}
	fmt.Fprintln(o.out, "All critical requirements are met.")
	return nil
}

type TestDatabaseOptions struct {
	GlobalOptions

	File string
}

func DefaultTestDatabaseOptions() *TestDatabaseOptions {
	return &TestDatabaseOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdTestDatabase() *cobra.Command {
	o := DefaultTestDatabaseOptions()
	cmd := &cobra.Command{
		Use:   "test-database -f FILE",
		Short: "Check that the installer can reach and administer the database.",
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

func (o *TestDatabaseOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.File, "file", "f", o.File, "Installation configuration holding the database section")
}

func (o *TestDatabaseOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.File == "" {
		return fmt.Errorf("an installation configuration file is required")
	}
	return nil
}

func (o *TestDatabaseOptions) Run(ctx context.Context, args []string) error {
	var cfg api.InstallConfig
	if err := readInstallConfig(o.File, &cfg); err != nil {
		return err
	}
	if cfg.Database == nil {
		return fmt.Errorf("%s has no database section", o.File)
	}

	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	resp, err := c.TestDatabase(ctx, *cfg.Database)
	if err != nil {
		var rejected *client.ErrRejected
		if errors.As(err, &rejected) {
			return fmt.Errorf("invalid database settings: %s", rejected.Message)
		}
		return err
	}
	if !resp.Success {
		return errors.New(resp.Message)
	}
	fmt.Fprintln(o.out, resp.Message)
	return nil
}
