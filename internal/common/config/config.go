// Package config provides configuration management for the agentx daemon.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/agentx/agentx/internal/common/logger"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server      ServerConfig                  `mapstructure:"server"`
	NATS        NATSConfig                    `mapstructure:"nats"`
	Logging     logger.LoggingConfig          `mapstructure:"logging"`
	Persistence PersistenceConfig             `mapstructure:"persistence"`
	Proxy       ProxyConfig                   `mapstructure:"proxy"`
	Agents      map[string]AgentProcessConfig `mapstructure:"agents"`
	McpServers  map[string]McpServerConfig    `mapstructure:"mcpServers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// PersistenceConfig holds the session journal configuration.
type PersistenceConfig struct {
	Dir string `mapstructure:"dir"`
}

// AgentProcessConfig describes how to launch one ACP agent subprocess.
type AgentProcessConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`

	// NodejsPath is a custom Node.js binary path used when probing the
	// runtime for JavaScript-based agents. Populated at runtime, not from
	// the config file.
	NodejsPath string `mapstructure:"-" yaml:"-"`
}

// McpServerConfig describes an MCP server made available to agents.
// Servers are enabled unless explicitly disabled.
type McpServerConfig struct {
	Disabled bool              `mapstructure:"disabled" yaml:"disabled"`
	Command  string            `mapstructure:"command" yaml:"command"`
	Args     []string          `mapstructure:"args" yaml:"args"`
	Env      map[string]string `mapstructure:"env" yaml:"env"`
}

// ToACP converts the configuration into the protocol's stdio server shape.
func (m *McpServerConfig) ToACP(name string) acp.McpServer {
	return acp.McpServer{
		Stdio: &acp.McpServerStdio{
			Name:    name,
			Command: m.Command,
			Args:    append([]string{}, m.Args...),
		},
	}
}

// ProxyConfig holds network proxy settings applied to agent subprocesses.
type ProxyConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	HTTPProxyURL  string `mapstructure:"httpProxyUrl"`
	HTTPSProxyURL string `mapstructure:"httpsProxyUrl"`
	AllProxyURL   string `mapstructure:"allProxyUrl"`
	ProxyType     string `mapstructure:"proxyType"` // http, https, socks5
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
}

// EnvVars returns the proxy environment variables to inject into agent
// subprocesses. Explicit URLs win; otherwise the legacy host/port fields are
// assembled into a single URL routed by proxy type. Returns nil when the
// proxy is disabled.
func (p *ProxyConfig) EnvVars() map[string]string {
	if !p.Enabled {
		return nil
	}

	vars := make(map[string]string)
	if p.HTTPProxyURL != "" {
		vars["HTTP_PROXY"] = p.HTTPProxyURL
		vars["http_proxy"] = p.HTTPProxyURL
	}
	if p.HTTPSProxyURL != "" {
		vars["HTTPS_PROXY"] = p.HTTPSProxyURL
		vars["https_proxy"] = p.HTTPSProxyURL
	}
	if p.AllProxyURL != "" {
		vars["ALL_PROXY"] = p.AllProxyURL
		vars["all_proxy"] = p.AllProxyURL
	}

	if len(vars) == 0 {
		if proxyURL := p.legacyURL(); proxyURL != "" {
			switch p.ProxyType {
			case "http", "https", "":
				vars["HTTP_PROXY"] = proxyURL
				vars["HTTPS_PROXY"] = proxyURL
				vars["http_proxy"] = proxyURL
				vars["https_proxy"] = proxyURL
			case "socks5":
				vars["ALL_PROXY"] = proxyURL
				vars["all_proxy"] = proxyURL
			}
		}
	}

	return vars
}

// legacyURL assembles a proxy URL from the host/port/credential fields.
func (p *ProxyConfig) legacyURL() string {
	if p.Host == "" {
		return ""
	}

	proxyType := p.ProxyType
	if proxyType == "" {
		proxyType = "http"
	}

	auth := ""
	if p.Username != "" {
		auth = fmt.Sprintf("%s:%s@", p.Username, p.Password)
	}

	return fmt.Sprintf("%s://%s%s:%d", proxyType, auth, p.Host, p.Port)
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultPersistenceDir returns the default session journal directory.
func defaultPersistenceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentx/sessions"
	}
	return filepath.Join(home, ".agentx", "sessions")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentx")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Persistence defaults
	v.SetDefault("persistence.dir", defaultPersistenceDir())

	// Proxy defaults
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.proxyType", "http")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTX_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory,
// ~/.agentx/, or /etc/agentx/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".agentx"))
	}
	v.AddConfigPath("/etc/agentx/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := restoreCaseSensitiveSections(&cfg, v.ConfigFileUsed()); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// restoreCaseSensitiveSections re-reads the agent and MCP server sections
// straight from the config file. Viper lowercases every map key it touches,
// which would destroy agent names and env variable names like
// ANTHROPIC_API_KEY; the YAML decoder keeps them intact.
func restoreCaseSensitiveSections(cfg *Config, configFile string) error {
	if configFile == "" {
		return nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error rereading config file: %w", err)
	}

	var raw struct {
		Agents     map[string]AgentProcessConfig `yaml:"agents"`
		McpServers map[string]McpServerConfig    `yaml:"mcpServers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if raw.Agents != nil {
		cfg.Agents = raw.Agents
	}
	if raw.McpServers != nil {
		cfg.McpServers = raw.McpServers
	}
	return nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Persistence.Dir == "" {
		errs = append(errs, "persistence.dir must not be empty")
	}

	if len(cfg.Agents) == 0 {
		errs = append(errs, "at least one agent must be configured under agents")
	}
	for name, agent := range cfg.Agents {
		if agent.Command == "" {
			errs = append(errs, fmt.Sprintf("agents.%s.command must not be empty", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// McpServersForACP returns the enabled MCP servers converted to protocol
// shapes, suitable for session/new and session/load requests.
func (c *Config) McpServersForACP() []acp.McpServer {
	out := make([]acp.McpServer, 0, len(c.McpServers))
	for name, server := range c.McpServers {
		if server.Disabled {
			continue
		}
		out = append(out, server.ToACP(name))
	}
	return out
}
