package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when none of the candidate config files exist.
var ErrNotFound = errors.New("config file not found")

// DefaultPaths are searched in order when no explicit config path is given.
var DefaultPaths = []string{"~/.config/enge.yaml", "~/.enge.yaml"}

// Config models enge.yaml.
type Config struct {
	Common      CommonConfig      `yaml:"common"`
	Project     ProjectConfig     `yaml:"project"`
	Tests       TestsConfig       `yaml:"tests"`
	TestingFarm TestingFarmConfig `yaml:"testing_farm"`
	Copr        CoprConfig        `yaml:"copr_api"`
	Brew        BrewConfig        `yaml:"brew_api"`
}

type CommonConfig struct {
	ArchiveTasksLatest  string `yaml:"archive_tasks_latest" validate:"required"`
	ArchiveTasksDefault string `yaml:"archive_tasks_default" validate:"required"`
	LogsDir             string `yaml:"logs_dir" validate:"required"`
}

type ProjectConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Owner   string `yaml:"owner"`
	RepoURL string `yaml:"repo_url" validate:"omitempty,url"`
}

// ComposeEntry is one target of the compose catalog.
type ComposeEntry struct {
	Compose string `yaml:"compose" json:"compose" validate:"required"`
	Chroot  string `yaml:"chroot" json:"chroot" validate:"required"`
	Distro  string `yaml:"distro" json:"distro" validate:"required"`
}

type TestsConfig struct {
	GitURL        string                  `yaml:"git_url" validate:"omitempty,url"`
	GitBranch     string                  `yaml:"git_branch"`
	ParallelLimit int                     `yaml:"parallel_limit" validate:"gte=0"`
	Plans         []string                `yaml:"plans"`
	Composes      map[string]ComposeEntry `yaml:"composes" validate:"required,min=1,dive"`
}

type TestingFarmConfig struct {
	APIKey            string `yaml:"api_key" json:"-"`
	EndpointURL       string `yaml:"endpoint_url" validate:"required,url"`
	LogArtifactsURL   string `yaml:"log_artifacts_url" validate:"required,url"`
	CloudResourcesTag string `yaml:"cloud_resources_tag"`
}

type CoprConfig struct {
	URL            string `yaml:"url" validate:"required,url"`
	Owner          string `yaml:"owner"`
	Package        string `yaml:"package"`
	OwnerIsGroup   bool   `yaml:"owner_is_group"`
	BuildReference string `yaml:"build_reference"`
}

type BrewConfig struct {
	SessionURL     string `yaml:"session_url" validate:"omitempty,url"`
	TaskIDURL      string `yaml:"taskid_url"`
	BuildReference string `yaml:"build_reference"`
	GSSAPILogin    bool   `yaml:"gssapi_login"`
}

// Overrides are command line values that take precedence over the file.
// Zero values leave the file value untouched.
type Overrides struct {
	TestsGitURL    string
	TestsGitBranch string
	ParallelLimit  int
	Plans          []string
	CoprReference  string
	BrewReference  string
	ArchiveDir     string
	APIKey         string
}

var validate = validator.New()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for key := range c.Tests.Composes {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config.tests.composes contains an empty target name")
		}
	}
	return nil
}

// Merge applies overrides on top of the loaded values.
func (c *Config) Merge(o Overrides) {
	if o.TestsGitURL != "" {
		c.Tests.GitURL = o.TestsGitURL
	}
	if c.Tests.GitURL == "" {
		c.Tests.GitURL = c.Project.RepoURL
	}
	if o.TestsGitBranch != "" {
		c.Tests.GitBranch = o.TestsGitBranch
	}
	if c.Tests.GitBranch == "" {
		c.Tests.GitBranch = "main"
	}
	if o.ParallelLimit > 0 {
		c.Tests.ParallelLimit = o.ParallelLimit
	}
	if len(o.Plans) > 0 {
		c.Tests.Plans = o.Plans
	}
	if o.CoprReference != "" {
		c.Copr.BuildReference = o.CoprReference
	}
	if o.BrewReference != "" {
		c.Brew.BuildReference = o.BrewReference
	}
	if o.ArchiveDir != "" {
		c.Common.ArchiveTasksDefault = expandHome(o.ArchiveDir)
	}
	if o.APIKey != "" {
		c.TestingFarm.APIKey = o.APIKey
	}
}

// CoprOwner is the owner whose project holds the builds: copr_api.owner
// when a dedicated copr_api.package is configured, project.owner otherwise.
func (c *Config) CoprOwner() string {
	if c.Copr.Package != "" || c.Project.Owner == "" {
		return c.Copr.Owner
	}
	return c.Project.Owner
}

// TargetNames returns the catalog keys sorted.
func (c *Config) TargetNames() []string {
	keys := make([]string, 0, len(c.Tests.Composes))
	for k := range c.Tests.Composes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.TestingFarm.APIKey != "" {
		c.TestingFarm.APIKey = "********"
	}
	return c
}

// Load reads the first existing file of paths.
func Load(paths []string) (*Config, string, error) {
	for _, p := range paths {
		path := expandHome(p)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", err
		}
		cfg, err := FromYAML(data)
		if err != nil {
			return nil, path, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, path, nil
	}
	return nil, "", fmt.Errorf("%w: looked in %s", ErrNotFound, strings.Join(paths, ", "))
}

// Default returns the built-in values every file is layered on.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Common.ArchiveTasksLatest = expandHome(cfg.Common.ArchiveTasksLatest)
	cfg.Common.ArchiveTasksDefault = expandHome(cfg.Common.ArchiveTasksDefault)
	cfg.Common.LogsDir = expandHome(cfg.Common.LogsDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

const defaultTemplate = `common:
  archive_tasks_latest: ~/.cache/enge/latest_jobs
  archive_tasks_default: ~/.cache/enge/archive
  logs_dir: /var/tmp/enge/logs

tests:
  git_branch: main

testing_farm:
  endpoint_url: https://api.dev.testing-farm.io/v0.1/requests
  log_artifacts_url: http://artifacts.osci.redhat.com/testing-farm

copr_api:
  url: https://copr.fedorainfracloud.org
`
