package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/serverkit/installer/internal/client"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GlobalOptions struct {
	ServerUrl      string
	ConfigFilePath string
	Session        string

	out io.Writer
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ServerUrl:      "http://localhost:8080",
		ConfigFilePath: client.DefaultClientConfigPath(),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the installer")
	fs.StringVarP(&o.ConfigFilePath, "config", "c", o.ConfigFilePath, "Path to the client configuration file")
	fs.StringVarP(&o.Session, "session", "s", o.Session, "Installation session, defaults to the one stored in the configuration file")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	o.out = cmd.OutOrStdout()

	// flags win over the configuration file
	cfg, err := client.ParseConfigFile(o.ConfigFilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	if !cmd.Flags().Changed("server-url") {
		o.ServerUrl = cfg.Service.Server
	}
	if o.Session == "" {
		o.Session = cfg.Service.Session
	}
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.ServerUrl == "" {
		return fmt.Errorf("server url is required")
	}
	return nil
}

func (o *GlobalOptions) Client() (*client.Client, error) {
	cfg := client.NewDefault()
	cfg.Service = client.Service{Server: o.ServerUrl, Session: o.Session}
	return client.NewFromConfig(cfg)
}

// RememberSession stores the session in the configuration file so the
// following commands act on it.
func (o *GlobalOptions) RememberSession(session string) error {
	return client.WriteConfig(o.ConfigFilePath, o.ServerUrl, session)
}

func (o *GlobalOptions) requireSession() error {
	if o.Session == "" {
		return fmt.Errorf("no installation session, pass --session or run install first")
	}
	return nil
}

func validateOutput(output string) error {
	if len(output) > 0 && !funk.ContainsString(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

// printStructured writes v in the requested format. It reports false when
// output asks for the human readable rendering.
func printStructured(w io.Writer, output string, v any) (bool, error) {
	switch output {
	case jsonFormat:
		marshalled, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshalling response: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(marshalled))
		return true, nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshalling response: %w", err)
		}
		fmt.Fprintf(w, "%s", string(marshalled))
		return true, nil
	default:
		return false, nil
	}
}

func readInstallConfig(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
