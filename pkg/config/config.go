package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/envfile"
)

// Config is the deployment manifest, usually ship.yaml. One manifest
// describes one application on one target host.
type Config struct {
	App         string `yaml:"app"`
	Environment string `yaml:"environment"`

	Server Server `yaml:"server"`

	// Dir is the application directory on the target.
	Dir string `yaml:"dir"`
	// Entrypoint is the script the service runs, relative to Dir.
	Entrypoint string `yaml:"entrypoint"`

	Python Python `yaml:"python"`
	Source Source `yaml:"source"`
	Env    Env    `yaml:"env"`

	Health    Health    `yaml:"health"`
	Service   Service   `yaml:"service"`
	Notify    Notify    `yaml:"notify"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Server struct {
	Host string `yaml:"host"`
	User string `yaml:"user"`
	Port int    `yaml:"port"`
}

type Python struct {
	Version string `yaml:"version"`
	// Constraint optionally pins the interpreter, e.g. "~3.9".
	Constraint string `yaml:"constraint"`
}

// Source selects exactly one transfer mode: a git origin synchronized on the
// target, or a local path (or go-getter URL) packaged and uploaded.
type Source struct {
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	Path   string `yaml:"path"`
}

type Env struct {
	// Values are literal NAME: VALUE pairs.
	Values map[string]string `yaml:"values"`
	// JSON is a raw JSON object of variables, with JSONPath optionally
	// selecting a nested object inside it.
	JSON     string `yaml:"json"`
	JSONPath string `yaml:"jsonPath"`
	// Prefix and Allow filter the caller-injected environ.
	Prefix string   `yaml:"prefix"`
	Allow  []string `yaml:"allow"`
}

type Health struct {
	Attempts int    `yaml:"attempts"`
	Interval string `yaml:"interval"`
	URL      string `yaml:"url"`
}

type Service struct {
	SettleDelay string `yaml:"settleDelay"`
}

type Notify struct {
	// Repo is the GitHub owner/repo (or clone URL) that receives deployment
	// statuses. Empty disables notification.
	Repo string `yaml:"repo"`
}

type Telemetry struct {
	Gateway string `yaml:"gateway"`
	Job     string `yaml:"job"`
}

// Loader reads and validates manifests.
type Loader struct {
	Logger logr.Logger

	fs vfs.FS
}

type Option interface {
	SetOption(*Loader) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(l *Loader) error {
	l.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(l *Loader) error {
	l.fs = o.f
	return nil
}

func New(opts ...Option) (*Loader, error) {
	l := &Loader{}

	for _, o := range opts {
		if err := o.SetOption(l); err != nil {
			return nil, err
		}
	}

	if l.Logger == nil {
		l.Logger = klogr.New()
	}

	if l.fs == nil {
		l.fs = vfs.HostOSFS
	}

	return l, nil
}

func (l *Loader) Load(path string) (*Config, error) {
	bytes, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %v", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(bytes, &raw); err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("parsing %s: %v", path, err)}}
	}

	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("parsing %s: %v", path, err)}}
	}

	cfg.ApplyDefaults()

	schemaProblems, err := cfg.schemaProblems(raw)
	if err != nil {
		return nil, err
	}

	if problems := append(schemaProblems, cfg.problems()...); len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}

	l.Logger.V(1).Info("loaded manifest", "path", path, "app", cfg.App, "environment", cfg.Environment)

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 22
	}
	if c.Entrypoint == "" {
		c.Entrypoint = "src/main.py"
	}
	if c.Python.Version == "" {
		c.Python.Version = "3.9"
	}
	if c.Source.Repo != "" && c.Source.Branch == "" {
		c.Source.Branch = "main"
	}
	if c.Health.Attempts == 0 {
		c.Health.Attempts = 30
	}
	if c.Health.Interval == "" {
		c.Health.Interval = "5s"
	}
	if c.Service.SettleDelay == "" {
		c.Service.SettleDelay = "2s"
	}
	if c.Telemetry.Job == "" {
		c.Telemetry.Job = "ship"
	}
}

// manifestSchema states the structural requirements. Anything it flags comes
// back as a ConfigurationError before a single remote command runs.
var manifestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"app", "environment", "server", "dir", "source"},
	"properties": map[string]interface{}{
		"app":         map[string]interface{}{"type": "string", "minLength": 1},
		"environment": map[string]interface{}{"type": "string", "minLength": 1},
		"dir":         map[string]interface{}{"type": "string", "minLength": 1},
		"server": map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"host", "user"},
			"properties": map[string]interface{}{
				"host": map[string]interface{}{"type": "string", "minLength": 1},
				"user": map[string]interface{}{"type": "string", "minLength": 1},
				"port": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 65535},
			},
		},
		"python": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"version": map[string]interface{}{"type": "string", "pattern": `^[0-9]+\.[0-9]+$`},
			},
		},
		"source": map[string]interface{}{
			"type": "object",
			"oneOf": []interface{}{
				map[string]interface{}{"required": []interface{}{"repo"}},
				map[string]interface{}{"required": []interface{}{"path"}},
			},
		},
	},
}

func (c *Config) schemaProblems(raw map[string]interface{}) ([]string, error) {
	schemaLoader := gojsonschema.NewGoLoader(manifestSchema)
	docLoader := gojsonschema.NewGoLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("validate: %v", err)
	}

	var problems []string
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return problems, nil
}

// Validate covers what the schema cannot express. Callers that mutate a
// loaded Config, like flag overrides, run it again before deploying.
func (c *Config) Validate() error {
	if problems := c.problems(); len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}

	return nil
}

func (c *Config) problems() []string {
	var problems []string

	if c.Source.Repo != "" && c.Source.Path != "" {
		problems = append(problems, "source: repo and path are mutually exclusive")
	}
	if c.Source.Repo == "" && c.Source.Path == "" {
		problems = append(problems, "source: either repo or path is required")
	}

	if c.Env.JSONPath != "" && c.Env.JSON == "" {
		problems = append(problems, "env: jsonPath requires json")
	}

	if _, err := time.ParseDuration(c.Health.Interval); err != nil {
		problems = append(problems, fmt.Sprintf("health: invalid interval: %v", err))
	}
	if _, err := time.ParseDuration(c.Service.SettleDelay); err != nil {
		problems = append(problems, fmt.Sprintf("service: invalid settleDelay: %v", err))
	}

	if err := envfile.Vars(c.Env.Values).Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	return problems
}

func (c *Config) ServiceName() string {
	return c.App + "-" + c.Environment
}

func (c *Config) HealthInterval() time.Duration {
	d, err := time.ParseDuration(c.Health.Interval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c *Config) ServiceSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.Service.SettleDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ConfigurationError lists every problem found in the manifest, not just the
// first one.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}
