// Package config parses and validates profile configuration documents.
// Format ownership stays here: the pipeline packages only ever consume
// an already-parsed Config value. Profiles are YAML, defaulted with
// creasty/defaults and validated with go-playground/validator/v10.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Error wraps any problem with a profile's configuration: missing or
// invalid fields, caught before the pipeline ever starts.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Profile identifies and describes the sync profile itself.
type Profile struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
}

// Endpoint is one side of the profile's sync pair. Endpoint ids come
// from the surrounding map key in Config.Endpoints, not from a field
// here.
type Endpoint struct {
	Kind              string `yaml:"kind" validate:"required,oneof=local remote"`
	Path              string `yaml:"path" validate:"required"`
	Host              string `yaml:"host"`
	ShellCommand      string `yaml:"shell_command"`
	PreConnectCommand string `yaml:"pre_connect_command"`
	Description       string `yaml:"description"`
}

// ConflictConfig is the profile's conflict-resolution policy.
type ConflictConfig struct {
	Policy         string `yaml:"policy" default:"newest" validate:"oneof=newest prefer manual"`
	Prefer         string `yaml:"prefer"`
	ManualBehavior string `yaml:"manual_behavior" validate:"omitempty,oneof=copy_both"`
	MergeTextFiles bool   `yaml:"merge_text_files" default:"true"`
	MergeFallback  string `yaml:"merge_fallback" default:"newest" validate:"oneof=newest prefer manual"`
}

// IgnoreConfig carries the shell glob patterns pruned from every
// snapshot.
type IgnoreConfig struct {
	Patterns []string `yaml:"patterns"`
}

// ScheduleConfig governs whether and how often the scheduler drives
// this profile. Either IntervalSeconds or Cron may be set; Cron takes
// precedence when both are present.
type ScheduleConfig struct {
	Enabled         bool   `yaml:"enabled" default:"false"`
	IntervalSeconds int    `yaml:"interval_seconds" default:"3600" validate:"gt=0"`
	RunOnStart      bool   `yaml:"run_on_start" default:"true"`
	Cron            string `yaml:"cron"`
}

// SSHConfig carries the defaults applied to every remote endpoint that
// doesn't set its own shell_command / pre_connect_command.
type SSHConfig struct {
	PreConnectCommand string            `yaml:"pre_connect_command"`
	ShellCommand      string            `yaml:"shell_command" default:"ssh"`
	Env               map[string]string `yaml:"env"`
	UseAgent          bool              `yaml:"use_agent" default:"true"`
}

// Config is one fully parsed, defaulted, and validated profile
// document.
type Config struct {
	Profile   Profile             `yaml:"profile" validate:"required"`
	Endpoints map[string]Endpoint `yaml:"endpoints" validate:"required,min=2,max=2,dive"`
	Conflict  ConflictConfig      `yaml:"conflict"`
	Ignore    IgnoreConfig        `yaml:"ignore"`
	Schedule  ScheduleConfig      `yaml:"schedule"`
	SSH       SSHConfig           `yaml:"ssh"`
}

// ParseConfig reads and parses the profile document at path.
func ParseConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return ParseConfigBytes(path, raw)
}

// ParseConfigBytes parses raw as a profile document. name is used only
// for error messages and may be empty.
func ParseConfigBytes(name string, raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, &Error{Path: name, Err: fmt.Errorf("parsing yaml: %w", err)}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, &Error{Path: name, Err: fmt.Errorf("applying defaults: %w", err)}
	}
	if err := Validator().Struct(&c); err != nil {
		return nil, &Error{Path: name, Err: fmt.Errorf("validating: %w", err)}
	}
	if err := c.Validate(); err != nil {
		return nil, &Error{Path: name, Err: err}
	}
	return &c, nil
}

// Validate enforces the cross-field invariants the struct tags can't
// express on their own: a prefer-policy endpoint id that actually
// resolves, and manual_behavior being set whenever policy is manual.
func (c *Config) Validate() error {
	if c.Conflict.Policy == "prefer" && c.Conflict.Prefer == "" {
		return fmt.Errorf("conflict.prefer is required when conflict.policy is \"prefer\"")
	}
	if c.Conflict.Prefer != "" {
		if _, ok := c.Endpoints[c.Conflict.Prefer]; !ok {
			return fmt.Errorf("conflict.prefer %q does not match any endpoint", c.Conflict.Prefer)
		}
	}
	if c.Conflict.Policy == "manual" && c.Conflict.ManualBehavior == "" {
		return fmt.Errorf("conflict.manual_behavior is required when conflict.policy is \"manual\"")
	}
	for id, ep := range c.Endpoints {
		if ep.Kind == "remote" && ep.Host == "" {
			return fmt.Errorf("endpoint %q: remote endpoints require a host", id)
		}
	}
	return nil
}

var validate *validator.Validate

// Validator returns the package-wide validator instance, reporting
// struct fields by their yaml tag name rather than the Go field name
// so validation errors read like the document the user actually wrote.
func Validator() *validator.Validate {
	if validate == nil {
		validate = newValidator()
	}
	return validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
