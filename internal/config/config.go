// Package config builds the immutable run configuration from viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/macfound/configaudit/internal/utils"
	"github.com/macfound/configaudit/pkg/notify"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/spf13/viper"
)

const (
	BackendGit    = "git"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	fluxxURLFormat = "https://func-fluxx-%s.azurewebsites.net/api"
	mailURLFormat  = "https://func-mail-%s.azurewebsites.net/api/send_mail"
)

// Config is read once at the start of a run and never changes afterwards.
type Config struct {
	Environment string
	IsDebug     bool

	MaxRetries int
	RetryDelay time.Duration

	PerPage         int
	ConfigurationID string
	FluxxURL        string
	FluxxKey        string
	MailURL         string
	MailKey         string
	HTTPTimeout     time.Duration
	HTTPRetries     int

	EmailTo     []string
	EmailCC     []string
	EmailToTest []string
	EmailCCTest []string

	StoreBackend string
	Repository   string
	Library      string
	Folder       string
	Branch       string
	Remote       string
	SSHCommand   string
	DBPath       string
	WorkDir      string

	LogLevel string
	Schedule time.Duration
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "dev")
	v.SetDefault("is_debug", false)
	v.SetDefault("max_retries", 3)
	v.SetDefault("sleep_time_in_seconds", 5)
	v.SetDefault("gms_per_page", 100)
	v.SetDefault("source_configuration_id", "47")
	v.SetDefault("source_repository", "fluxx-audit")
	v.SetDefault("source_library", "macfound")
	v.SetDefault("source_folder", "configuration_audit")
	v.SetDefault("active_branch", "dev")
	v.SetDefault("func_fluxx", "")
	v.SetDefault("func_mail", "")
	v.SetDefault("fluxx_url", "")
	v.SetDefault("mail_url", "")
	v.SetDefault("email_to_list", "")
	v.SetDefault("email_cc_list", "")
	v.SetDefault("email_to_list_test", "")
	v.SetDefault("email_cc_list_test", "")
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("http_retries", 0)
	v.SetDefault("store.backend", BackendGit)
	v.SetDefault("store.remote", "")
	v.SetDefault("store.ssh_command", "")
	v.SetDefault("store.dbpath", "configaudit.sqlite")
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), "configaudit"))
	v.SetDefault("loglevel", "info")
	v.SetDefault("schedule", "1h")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	env := strings.TrimSpace(v.GetString("environment"))
	c := Config{
		Environment: env,
		IsDebug:     v.GetBool("is_debug"),

		MaxRetries: v.GetInt("max_retries"),
		RetryDelay: time.Duration(v.GetInt("sleep_time_in_seconds")) * time.Second,

		PerPage:         v.GetInt("gms_per_page"),
		ConfigurationID: v.GetString("source_configuration_id"),
		FluxxURL:        v.GetString("fluxx_url"),
		FluxxKey:        v.GetString("func_fluxx"),
		MailURL:         v.GetString("mail_url"),
		MailKey:         v.GetString("func_mail"),
		HTTPTimeout:     time.Duration(v.GetInt("http_timeout_seconds")) * time.Second,
		HTTPRetries:     v.GetInt("http_retries"),

		EmailTo:     utils.SplitList(v.GetString("email_to_list")),
		EmailCC:     utils.SplitList(v.GetString("email_cc_list")),
		EmailToTest: utils.SplitList(v.GetString("email_to_list_test")),
		EmailCCTest: utils.SplitList(v.GetString("email_cc_list_test")),

		StoreBackend: strings.ToLower(v.GetString("store.backend")),
		Repository:   v.GetString("source_repository"),
		Library:      v.GetString("source_library"),
		Folder:       v.GetString("source_folder"),
		Branch:       v.GetString("active_branch"),
		Remote:       v.GetString("store.remote"),
		SSHCommand:   v.GetString("store.ssh_command"),
		DBPath:       v.GetString("store.dbpath"),
		WorkDir:      v.GetString("work_dir"),

		LogLevel: v.GetString("loglevel"),
		Schedule: v.GetDuration("schedule"),
	}

	if c.FluxxURL == "" {
		c.FluxxURL = fmt.Sprintf(fluxxURLFormat, strings.ToLower(env))
	}
	if c.MailURL == "" {
		c.MailURL = fmt.Sprintf(mailURLFormat, strings.ToLower(env))
	}
	if c.Remote == "" {
		c.Remote = "https://github.com/" + c.Library
	}

	return c, c.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Environment == "" {
		errs = append(errs, errors.New("environment must be set"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("sleep_time_in_seconds must not be negative, got %s", c.RetryDelay))
	}
	if c.PerPage <= 0 {
		errs = append(errs, fmt.Errorf("gms_per_page must be positive, got %d", c.PerPage))
	}
	if c.HTTPRetries < 0 {
		errs = append(errs, fmt.Errorf("http_retries must not be negative, got %d", c.HTTPRetries))
	}
	if c.ConfigurationID == "" || c.Repository == "" || c.Folder == "" {
		errs = append(errs, errors.New("source_configuration_id, source_repository and source_folder must be set"))
	}
	switch c.StoreBackend {
	case BackendGit:
		if c.Branch == "" {
			errs = append(errs, errors.New("active_branch must be set for the git store"))
		}
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("store.dbpath must be set for the sqlite store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

// Identifier names the audited configuration inside the store.
func (c Config) Identifier() snapshot.Identifier {
	return snapshot.Identifier{Repository: c.Repository, Folder: c.Folder, FileID: c.ConfigurationID}
}

// Routing returns the recipient routing for notifications.
func (c Config) Routing() notify.Routing {
	return notify.Routing{
		Environment: c.Environment,
		IsDebug:     c.IsDebug,
		To:          c.EmailTo,
		CC:          c.EmailCC,
		TestTo:      c.EmailToTest,
		TestCC:      c.EmailCCTest,
	}
}
