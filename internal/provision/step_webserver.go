package provision

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/pkg/errors"
)

var vhostTemplate = template.Must(template.New("vhost").Parse(`# Managed by the installer. Local changes are overwritten on reinstall.
server {
    listen 80;
    listen [::]:80;
    server_name {{ .ServerNames }};

    root {{ .Root }};
    index index.html index.htm;

    access_log /var/log/nginx/{{ .Name }}.access.log;
    error_log /var/log/nginx/{{ .Name }}.error.log;

    location / {
        try_files $uri $uri/ =404;
    }

    location ~ /\. {
        deny all;
    }
}
`))

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type vhost struct {
	Name        string
	ServerNames string
	Root        string
}

type webserverStep struct {
	sitesDir   string
	installDir string
}

func NewWebserverStep(sitesDir, installDir string) Step {
	return &webserverStep{sitesDir: sitesDir, installDir: installDir}
}

func (s *webserverStep) Name() string { return "webserver" }

func (s *webserverStep) Description() string { return "Configuring web server" }

func (s *webserverStep) Run(ctx context.Context, env *Env) error {
	srv := env.Config.Server
	if srv == nil {
		return errors.New("server configuration is missing")
	}

	v := vhost{
		Name:        unsafeFileChars.ReplaceAllString(srv.ServerName, "_"),
		ServerNames: srv.ServerName,
		Root:        filepath.Join(installDir(env.Config, s.installDir), "public"),
	}
	if srv.Domain != "" && srv.Domain != srv.ServerName {
		v.ServerNames = srv.ServerName + " " + srv.Domain
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, v); err != nil {
		return errors.Wrap(err, "rendering virtual host")
	}
	path := filepath.Join(s.sitesDir, v.Name+".conf")

	if env.DryRun {
		env.Report.Debug("Dry run: virtual host not written", map[string]any{"path": path, "vhost": buf.String()})
		return nil
	}

	if err := os.MkdirAll(s.sitesDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", s.sitesDir)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	env.Report.Info("Virtual host written", map[string]any{"path": path, "server_name": v.ServerNames})

	if err := run(ctx, env, "nginx", "-t"); err != nil {
		return err
	}
	return run(ctx, env, "systemctl", "reload", "nginx")
}
