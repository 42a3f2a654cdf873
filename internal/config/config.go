package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saveenergy/speedgauge/internal/logging"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
)

const (
	EngineSimulated = "simulated"
	EngineRemote    = "remote"

	envPrefix = "SPEEDGAUGE_"
)

type Config struct {
	Title string `yaml:"title"`

	Engine            string        `yaml:"engine"`
	RemoteURL         string        `yaml:"remote_url"`
	RemoteDialTimeout time.Duration `yaml:"remote_dial_timeout"`

	SimTick             time.Duration `yaml:"sim_tick"`
	SimPingDuration     time.Duration `yaml:"sim_ping_duration"`
	SimDownloadDuration time.Duration `yaml:"sim_download_duration"`
	SimUploadDuration   time.Duration `yaml:"sim_upload_duration"`
	SimDownloadMbps     float64       `yaml:"sim_download_mbps"`
	SimUploadMbps       float64       `yaml:"sim_upload_mbps"`
	SimPingMs           float64       `yaml:"sim_ping_ms"`
	SimJitterMs         float64       `yaml:"sim_jitter_ms"`
	SimSeed             uint64        `yaml:"sim_seed"`

	ListenAddress         string        `yaml:"listen_address"`
	ReadHeaderTimeout     time.Duration `yaml:"read_header_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
	WebSocketPingInterval time.Duration `yaml:"websocket_ping_interval"`
	MetricsEnabled        bool          `yaml:"metrics_enabled"`
	WebRoot               string        `yaml:"web_root"`

	RateLimitPerIP    int      `yaml:"rate_limit_per_ip"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTQoS      byte   `yaml:"mqtt_qos"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Title:                 "Speed Test",
		Engine:                EngineSimulated,
		RemoteDialTimeout:     10 * time.Second,
		SimTick:               100 * time.Millisecond,
		SimPingDuration:       2 * time.Second,
		SimDownloadDuration:   10 * time.Second,
		SimUploadDuration:     10 * time.Second,
		SimDownloadMbps:       94,
		SimUploadMbps:         38,
		SimPingMs:             14,
		SimJitterMs:           2,
		SimSeed:               1,
		ListenAddress:         "127.0.0.1:8080",
		ReadHeaderTimeout:     15 * time.Second, // protects against slowloris
		IdleTimeout:           60 * time.Second,
		AllowedOrigins:        []string{"*"},
		WebSocketPingInterval: 30 * time.Second,
		MetricsEnabled:        true,
		RateLimitPerIP:        30,
		MQTTTopic:             "speedgauge/display",
		MQTTClientID:          "speedgauge-" + hostname,
		MQTTQoS:               0,
		LogLevel:              "info",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/speedgauge/config.yaml, falling back to the
// platform user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "speedgauge", "config.yaml")
}

// Load layers the YAML file at path and then the environment over the
// defaults. An empty path means DefaultPath, which may be absent; an explicit
// path must exist. Flags are applied by the caller, which validates last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		err := cfg.LoadFile(path)
		switch {
		case err == nil:
			logging.Debug("config file loaded", logging.Field{Key: "path", Value: path})
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return gaugeerrors.ErrInvalidConfig("read "+path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return gaugeerrors.ErrInvalidConfig("parse "+path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if title := getenv("TITLE"); title != "" {
		c.Title = title
	}
	if engine := getenv("ENGINE"); engine != "" {
		c.Engine = strings.ToLower(engine)
	}
	if u := getenv("REMOTE_URL"); u != "" {
		c.RemoteURL = u
	}
	if err := envDuration("REMOTE_DIAL_TIMEOUT", &c.RemoteDialTimeout); err != nil {
		return err
	}

	if err := envDuration("SIM_TICK", &c.SimTick); err != nil {
		return err
	}
	if err := envFloat("SIM_DOWNLOAD_MBPS", &c.SimDownloadMbps); err != nil {
		return err
	}
	if err := envFloat("SIM_UPLOAD_MBPS", &c.SimUploadMbps); err != nil {
		return err
	}

	if addr := getenv("LISTEN"); addr != "" {
		c.ListenAddress = addr
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if err := envDuration("WS_PING_INTERVAL", &c.WebSocketPingInterval); err != nil {
		return err
	}
	if enabled := getenv("METRICS_ENABLED"); enabled != "" {
		c.MetricsEnabled = enabled == "true" || enabled == "1"
	}
	if webRoot := getenv("WEB_ROOT"); webRoot != "" {
		c.WebRoot = webRoot
	}
	if limit := getenv("RATE_LIMIT_PER_IP"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return invalid(fmt.Sprintf("invalid %sRATE_LIMIT_PER_IP %q: must be a positive integer", envPrefix, limit))
		}
		c.RateLimitPerIP = l
	}
	if trust := getenv("TRUST_PROXY_HEADERS"); trust == "true" || trust == "1" {
		c.TrustProxyHeaders = true
	}
	if cidrs := getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitList(cidrs)
	}

	if broker := getenv("MQTT_BROKER"); broker != "" {
		c.MQTTBroker = broker
	}
	if topic := getenv("MQTT_TOPIC"); topic != "" {
		c.MQTTTopic = topic
	}
	if id := getenv("MQTT_CLIENT_ID"); id != "" {
		c.MQTTClientID = id
	}

	if level := getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if file := getenv("LOG_FILE"); file != "" {
		c.LogFile = file
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineSimulated:
		if c.SimTick <= 0 {
			return invalid("simulated tick must be > 0")
		}
		if c.SimPingDuration < 0 || c.SimDownloadDuration < 0 || c.SimUploadDuration < 0 {
			return invalid("simulated phase durations cannot be negative")
		}
		if c.SimDownloadMbps < 0 || c.SimUploadMbps < 0 {
			return invalid("simulated target rates cannot be negative")
		}
	case EngineRemote:
		if c.RemoteURL == "" {
			return invalid("remote engine requires remote_url")
		}
		u, err := url.Parse(c.RemoteURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return invalid(fmt.Sprintf("invalid remote_url %q: must be ws:// or wss://", c.RemoteURL))
		}
	default:
		return invalid(fmt.Sprintf("unknown engine %q: must be %s or %s", c.Engine, EngineSimulated, EngineRemote))
	}

	if c.ListenAddress != "" {
		if _, port, err := net.SplitHostPort(c.ListenAddress); err != nil {
			return invalid(fmt.Sprintf("invalid listen address %q", c.ListenAddress))
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			return invalid(fmt.Sprintf("invalid listen port %q: must be 0-65535", port))
		}
	}
	if c.WebSocketPingInterval <= 0 {
		return invalid("websocket ping interval must be > 0")
	}
	if c.RateLimitPerIP <= 0 {
		return invalid("rate limit per IP must be > 0")
	}
	if c.TrustProxyHeaders {
		for _, entry := range c.TrustedProxyCIDRs {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return invalid(fmt.Sprintf("invalid trusted proxy CIDR: %s", entry))
			}
		}
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return invalid("mqtt topic cannot be empty when a broker is set")
	}
	if c.MQTTQoS > 2 {
		return invalid("mqtt qos must be 0, 1 or 2")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid(fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	return nil
}

func splitList(v string) []string {
	entries := strings.Split(v, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		value := strings.TrimSpace(entry)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func invalid(msg string) error {
	return gaugeerrors.ErrInvalidConfig(msg, nil)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envDuration(key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return invalid(fmt.Sprintf("invalid %s%s %q: must be a positive duration (e.g. 30s)", envPrefix, key, v))
	}
	*dst = d
	return nil
}

func envFloat(key string, dst *float64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return invalid(fmt.Sprintf("invalid %s%s %q: must be a non-negative number", envPrefix, key, v))
	}
	*dst = f
	return nil
}
