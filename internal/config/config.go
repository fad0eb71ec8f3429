// internal/config/config.go
//
// This package handles configuration and the .lattice-org directory structure.
// Every project that runs an organization gets a .lattice-org/ folder created
// in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the name of the directory we create in each project
	ProjectDirName = ".lattice-org"

	// EnvPrefix namespaces environment overrides (LATTICE_ORG_CACHE_BACKEND, ...).
	EnvPrefix = "LATTICE_ORG"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	EntityBackendMemory = "memory"
	EntityBackendTOML   = "toml"

	GeneratorBackendOffline = "offline"
	GeneratorBackendHTTP    = "http"
)

const (
	defaultTickInterval   = 5 * time.Second
	defaultMeetingGrace   = 2 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryDelay     = 200 * time.Millisecond
	defaultStateTTL       = 7 * 24 * time.Hour
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultKeyPrefix      = "lattice-org"
	defaultEntitiesFile   = "entities.toml"
	defaultGeneratorModel = "gpt-4o-mini"
	defaultAPIKeyEnv      = "OPENAI_API_KEY"
	defaultGenTimeout     = 60 * time.Second
	defaultBridgeHost     = "127.0.0.1"
	defaultBridgePort     = 8787
)

const defaultProjectConfigYAML = `# lattice-org project configuration
version: 1

# Actor loop timings. Durations use Go syntax (5s, 250ms, 168h).
runtime:
  tick_interval: 5s
  meeting_grace: 2s
  retry_attempts: 5
  retry_delay: 200ms
  state_ttl: 168h

# Orchestration state cache. Use backend: redis to survive restarts.
cache:
  backend: memory
  # redis_addr: 127.0.0.1:6379
  key_prefix: lattice-org

# Business entity store (tasks, employees, memories, meetings).
entities:
  backend: toml
  path: entities.toml

# Text generation used for transcripts, evaluations and reports.
generator:
  backend: offline
  # backend: http
  # endpoint: https://api.openai.com/v1/chat/completions
  # model: gpt-4o-mini
  # api_key_env: OPENAI_API_KEY

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8787
`

// Duration decodes Go duration strings from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RuntimeConfig captures actor loop timings.
type RuntimeConfig struct {
	TickInterval  Duration `yaml:"tick_interval"`
	MeetingGrace  Duration `yaml:"meeting_grace"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryDelay    Duration `yaml:"retry_delay"`
	StateTTL      Duration `yaml:"state_ttl"`
}

// CacheConfig selects the state store backend.
type CacheConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	KeyPrefix     string `yaml:"key_prefix,omitempty"`
}

// EntitiesConfig selects the entity store backend.
type EntitiesConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
}

// GeneratorConfig selects the text generation backend.
type GeneratorConfig struct {
	Backend   string   `yaml:"backend"`
	Endpoint  string   `yaml:"endpoint,omitempty"`
	Model     string   `yaml:"model,omitempty"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
}

// BridgeConfig configures the HTTP trigger boundary.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .lattice-org/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Cache     CacheConfig     `yaml:"cache"`
	Entities  EntitiesConfig  `yaml:"entities"`
	Generator GeneratorConfig `yaml:"generator"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// Config holds the runtime configuration for an organization.
type Config struct {
	// ProjectDir is the directory where the user ran the CLI from
	ProjectDir string

	// OrgDir is ProjectDir/.lattice-org
	OrgDir string

	Project ProjectConfig
}

// InitProjectDir creates the .lattice-org directory structure in the given project directory.
//
// Structure created:
// .lattice-org/
// ├── config.yaml
// ├── logs/   <- actor loop and bridge logging
// ├── state/  <- entity store file when using the toml backend
// └── seeds/  <- optional organization seed files
func InitProjectDir(projectDir string) error {
	orgDir := filepath.Join(projectDir, ProjectDirName)
	dirs := []string{
		filepath.Join(orgDir, "logs"),
		filepath.Join(orgDir, "state"),
		filepath.Join(orgDir, "seeds"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(orgDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings and
// environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		OrgDir:     filepath.Join(projectDir, ProjectDirName),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(newEnv()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.OrgDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.OrgDir, "state")
}

// SeedsDir returns the directory holding organization seed files.
func (c *Config) SeedsDir() string {
	return filepath.Join(c.OrgDir, "seeds")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.OrgDir, "config.yaml")
}

// EntitiesPath resolves the entity store file for the toml backend.
func (c *Config) EntitiesPath() string {
	path := c.Project.Entities.Path
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.StateDir(), path)
}

// GeneratorAPIKey reads the API key from the configured environment variable.
func (c *Config) GeneratorAPIKey() string {
	name := strings.TrimSpace(c.Project.Generator.APIKeyEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func newEnv() *viper.Viper {
	env := viper.New()
	env.SetEnvPrefix(EnvPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()
	return env
}

// applyEnvOverrides layers LATTICE_ORG_* variables over the file config.
func (c *Config) applyEnvOverrides(env *viper.Viper) error {
	if env == nil {
		return nil
	}
	pc := &c.Project
	if v := strings.TrimSpace(env.GetString("cache.backend")); v != "" {
		pc.Cache.Backend = v
	}
	if v := strings.TrimSpace(env.GetString("redis.addr")); v != "" {
		pc.Cache.RedisAddr = v
	}
	if v := strings.TrimSpace(env.GetString("entities.backend")); v != "" {
		pc.Entities.Backend = v
	}
	if v := strings.TrimSpace(env.GetString("generator.backend")); v != "" {
		pc.Generator.Backend = v
	}
	if v := strings.TrimSpace(env.GetString("generator.endpoint")); v != "" {
		pc.Generator.Endpoint = v
	}
	if env.IsSet("bridge.enabled") {
		enabled := env.GetBool("bridge.enabled")
		pc.Bridge.Enabled = &enabled
	}
	if v := strings.TrimSpace(env.GetString("bridge.host")); v != "" {
		pc.Bridge.Host = v
	}
	if port := env.GetInt("bridge.port"); port > 0 && port <= 65535 {
		pc.Bridge.Port = port
	}
	if d := env.GetDuration("runtime.tick_interval"); d > 0 {
		pc.Runtime.TickInterval = Duration(d)
	}
	pc.applyDefaults()
	pc.normalize()
	if err := pc.validate(); err != nil {
		return fmt.Errorf("config: env overrides: %w", err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	rt := &pc.Runtime
	if rt.TickInterval <= 0 {
		rt.TickInterval = Duration(defaultTickInterval)
	}
	if rt.MeetingGrace <= 0 {
		rt.MeetingGrace = Duration(defaultMeetingGrace)
	}
	if rt.RetryAttempts <= 0 {
		rt.RetryAttempts = defaultRetryAttempts
	}
	if rt.RetryDelay <= 0 {
		rt.RetryDelay = Duration(defaultRetryDelay)
	}
	if rt.StateTTL <= 0 {
		rt.StateTTL = Duration(defaultStateTTL)
	}
	if pc.Cache.Backend == "" {
		pc.Cache.Backend = CacheBackendMemory
	}
	if pc.Cache.KeyPrefix == "" {
		pc.Cache.KeyPrefix = defaultKeyPrefix
	}
	if pc.Entities.Backend == "" {
		pc.Entities.Backend = EntityBackendTOML
	}
	if pc.Entities.Path == "" {
		pc.Entities.Path = defaultEntitiesFile
	}
	if pc.Generator.Backend == "" {
		pc.Generator.Backend = GeneratorBackendOffline
	}
	if pc.Generator.Model == "" {
		pc.Generator.Model = defaultGeneratorModel
	}
	if pc.Generator.APIKeyEnv == "" {
		pc.Generator.APIKeyEnv = defaultAPIKeyEnv
	}
	if pc.Generator.Timeout <= 0 {
		pc.Generator.Timeout = Duration(defaultGenTimeout)
	}
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = defaultBridgePort
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Cache.Backend = normalizeName(pc.Cache.Backend)
	pc.Cache.RedisAddr = strings.TrimSpace(pc.Cache.RedisAddr)
	pc.Cache.KeyPrefix = strings.Trim(strings.TrimSpace(pc.Cache.KeyPrefix), ":")
	if pc.Cache.Backend == CacheBackendRedis && pc.Cache.RedisAddr == "" {
		pc.Cache.RedisAddr = defaultRedisAddr
	}
	pc.Entities.Backend = normalizeName(pc.Entities.Backend)
	pc.Entities.Path = strings.TrimSpace(pc.Entities.Path)
	pc.Generator.Backend = normalizeName(pc.Generator.Backend)
	pc.Generator.Endpoint = strings.TrimSpace(pc.Generator.Endpoint)
	pc.Generator.Model = strings.TrimSpace(pc.Generator.Model)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis'")
	}
	switch pc.Entities.Backend {
	case EntityBackendMemory:
	case EntityBackendTOML:
		if pc.Entities.Path == "" {
			return fmt.Errorf("entities.path is required for the toml backend")
		}
	default:
		return fmt.Errorf("entities.backend must be 'memory' or 'toml'")
	}
	switch pc.Generator.Backend {
	case GeneratorBackendOffline:
	case GeneratorBackendHTTP:
		if pc.Generator.Endpoint == "" {
			return fmt.Errorf("generator.endpoint is required for the http backend")
		}
	default:
		return fmt.Errorf("generator.backend must be 'offline' or 'http'")
	}
	if pc.Bridge.Port <= 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	return nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

// Save writes the project config back to .lattice-org/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.OrgDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure project dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
