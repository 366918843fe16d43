package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Service      *svcConfig
	Jobs         *jobsConfig
	Logs         *logsConfig
	Provision    *provisionConfig
	Artifacts    *artifactsConfig
	Requirements *requirementsConfig
}

type svcConfig struct {
	Address        string   `envconfig:"INSTALLER_ADDRESS" default:":8080"`
	MetricsAddress string   `envconfig:"INSTALLER_METRICS_ADDRESS" default:":8081"`
	BaseUrl        string   `envconfig:"INSTALLER_BASE_URL" default:"http://localhost:8080"`
	LogLevel       string   `envconfig:"INSTALLER_LOG_LEVEL" default:"info"`
	AllowedOrigins []string `envconfig:"INSTALLER_ALLOWED_ORIGINS" default:"*"`
	SessionCookie  string   `envconfig:"INSTALLER_SESSION_COOKIE" default:"installer_session"`
}

type jobsConfig struct {
	TTL             time.Duration `envconfig:"INSTALLER_JOB_TTL" default:"24h"`
	JanitorInterval time.Duration `envconfig:"INSTALLER_JOB_JANITOR_INTERVAL" default:"5m"`
	MaxConcurrent   int64         `envconfig:"INSTALLER_JOB_MAX_CONCURRENT" default:"4"`
}

type logsConfig struct {
	Dir             string        `envconfig:"INSTALLER_LOG_DIR" default:"./logs"`
	RetentionDays   int           `envconfig:"INSTALLER_LOG_RETENTION_DAYS" default:"7"`
	CleanupInterval time.Duration `envconfig:"INSTALLER_LOG_CLEANUP_INTERVAL" default:"1h"`
}

type provisionConfig struct {
	DryRun         bool          `envconfig:"INSTALLER_DRY_RUN" default:"false"`
	StepTimeout    time.Duration `envconfig:"INSTALLER_STEP_TIMEOUT" default:"10m"`
	PackageManager string        `envconfig:"INSTALLER_PACKAGE_MANAGER" default:"apt-get"`
	Packages       []string      `envconfig:"INSTALLER_PACKAGES" default:"nginx,postgresql-client,curl,unzip"`
	InstallDir     string        `envconfig:"INSTALLER_INSTALL_DIR" default:"/var/www/app"`
	NginxSitesDir  string        `envconfig:"INSTALLER_NGINX_SITES_DIR" default:"/etc/nginx/conf.d"`
	AppDBType      string        `envconfig:"INSTALLER_APP_DB_TYPE" default:"pgsql"`
}

type artifactsConfig struct {
	Type      string `envconfig:"INSTALLER_ARTIFACTS_TYPE" default:"local"`
	LocalDir  string `envconfig:"INSTALLER_ARTIFACTS_DIR" default:"./dist"`
	Endpoint  string `envconfig:"INSTALLER_S3_ENDPOINT" default:""`
	Bucket    string `envconfig:"INSTALLER_S3_BUCKET" default:""`
	Prefix    string `envconfig:"INSTALLER_S3_PREFIX" default:""`
	AccessKey string `envconfig:"INSTALLER_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"INSTALLER_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"INSTALLER_S3_USE_SSL" default:"true"`
}

type requirementsConfig struct {
	MinDiskGB   uint64   `envconfig:"INSTALLER_MIN_DISK_GB" default:"5"`
	MinMemoryMB uint64   `envconfig:"INSTALLER_MIN_MEMORY_MB" default:"1024"`
	Commands    []string `envconfig:"INSTALLER_REQUIRED_COMMANDS" default:"psql,nginx,systemctl"`
	Services    []string `envconfig:"INSTALLER_REQUIRED_SERVICES" default:"nginx"`
	PolicyDir   string   `envconfig:"INSTALLER_REQUIREMENTS_POLICY_DIR" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault builds a fresh configuration without touching the process-wide
// instance.
func NewDefault() *Config {
	c := new(Config)
	_ = envconfig.Process("", c)
	return c
}
