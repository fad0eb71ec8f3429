package eventbridge

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/lattice-org/internal/config"
)

const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8787
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Settings describes where the bridge listens. Zero limits take the defaults
// when the server is built.
type Settings struct {
	Enabled bool
	Host    string
	Port    int // 0 binds an ephemeral port
	Limits  Limits
}

// Limits bounds how long and how much a single request may take.
type Limits struct {
	MaxBodyBytes int64
	Read         time.Duration
	Write        time.Duration
	Idle         time.Duration
}

// DefaultLimits returns the limits used for zero fields.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: DefaultMaxBodyBytes,
		Read:         15 * time.Second,
		Write:        15 * time.Second,
		Idle:         time.Minute,
	}
}

// SettingsFromConfig reads the project's bridge section. Environment
// overrides are already folded into cfg by config.NewConfig.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{Enabled: true, Host: DefaultHost, Port: DefaultPort}
	if cfg == nil {
		return s.withDefaults()
	}
	bc := cfg.Project.Bridge
	if bc.Enabled != nil {
		s.Enabled = *bc.Enabled
	}
	if host := strings.TrimSpace(bc.Host); host != "" {
		s.Host = host
	}
	if bc.Port > 0 && bc.Port <= 65535 {
		s.Port = bc.Port
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	def := DefaultLimits()
	if s.Limits.MaxBodyBytes <= 0 {
		s.Limits.MaxBodyBytes = def.MaxBodyBytes
	}
	if s.Limits.Read <= 0 {
		s.Limits.Read = def.Read
	}
	if s.Limits.Write <= 0 {
		s.Limits.Write = def.Write
	}
	if s.Limits.Idle <= 0 {
		s.Limits.Idle = def.Idle
	}
	return s
}

// ListenAddress is the host:port the server binds.
func (s Settings) ListenAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DialURL is the base URL a local client should use. Wildcard hosts are
// dialled on loopback.
func (s Settings) DialURL() string {
	host := s.Host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = DefaultHost
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}
