// Package config loads scanner settings from file, environment and flags
// with viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/pkg/ports"
)

// EnvPrefix prefixes every environment override, e.g. SURFACE_SCAN_AXFR.
const EnvPrefix = "SURFACE"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Passive  PassiveConfig  `mapstructure:"passive"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Assets   []AssetEntry   `mapstructure:"assets"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ScanConfig struct {
	Ports            []int         `mapstructure:"ports"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
	ProbeConcurrency int           `mapstructure:"probe_concurrency"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	TLSTimeout       time.Duration `mapstructure:"tls_timeout"`
	SSHTimeout       time.Duration `mapstructure:"ssh_timeout"`
	// RateLimit caps connect attempts per second; 0 means unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`
	AXFR      bool    `mapstructure:"axfr"`
}

type ResolverConfig struct {
	Nameservers []string      `mapstructure:"nameservers"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Wordlist is "builtin", a file of host labels, or empty to disable
	// wordlist guessing.
	Wordlist string `mapstructure:"wordlist"`
}

type PassiveConfig struct {
	Sources   []string      `mapstructure:"sources"`
	CacheAddr string        `mapstructure:"cache_addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Refresh   bool          `mapstructure:"refresh"`
}

type RiskConfig struct {
	ControlsFile string `mapstructure:"controls_file"`
}

type NotifyConfig struct {
	SlackWebhook string `mapstructure:"slack_webhook"`
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPQueue    string `mapstructure:"amqp_queue"`
	Buffer       int    `mapstructure:"buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AssetEntry supplies business context for a host and, unless it is
// matched exactly by another entry, for its subdomains.
type AssetEntry struct {
	Host            string `mapstructure:"host"`
	Criticality     int    `mapstructure:"criticality"`
	DataClass       string `mapstructure:"data_class"`
	InternetExposed *bool  `mapstructure:"internet_exposed"`
	Owner           string `mapstructure:"owner"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "surface.db")

	v.SetDefault("scan.ports", ports.Candidates)
	v.SetDefault("scan.sweep_concurrency", 500)
	v.SetDefault("scan.probe_concurrency", 100)
	v.SetDefault("scan.connect_timeout", time.Second)
	v.SetDefault("scan.http_timeout", 5*time.Second)
	v.SetDefault("scan.tls_timeout", 5*time.Second)
	v.SetDefault("scan.ssh_timeout", 2*time.Second)
	v.SetDefault("scan.rate_limit", 0)
	v.SetDefault("scan.axfr", false)

	v.SetDefault("resolver.nameservers", []string{})
	v.SetDefault("resolver.concurrency", 50)
	v.SetDefault("resolver.timeout", 3*time.Second)
	v.SetDefault("resolver.wordlist", "")

	v.SetDefault("passive.sources", []string{"crtsh", "hackertarget", "otx"})
	v.SetDefault("passive.cache_addr", "")
	v.SetDefault("passive.cache_ttl", 6*time.Hour)
	v.SetDefault("passive.refresh", false)

	v.SetDefault("risk.controls_file", "")

	v.SetDefault("notify.slack_webhook", "")
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.amqp_queue", "surface.lifecycle")
	v.SetDefault("notify.buffer", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads file, or surface.yaml from the working directory or $HOME
// when file is empty. A missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("notify.slack_webhook", EnvPrefix+"_NOTIFY_SLACK_WEBHOOK", "SLACK_WEBHOOK")
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("surface")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scanner cannot run with and normalizes
// the port list.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	c.Scan.Ports = ports.Normalize(c.Scan.Ports)
	if len(c.Scan.Ports) == 0 {
		return errors.New("scan.ports: no valid ports")
	}
	if c.Scan.SweepConcurrency < 1 || c.Scan.ProbeConcurrency < 1 || c.Resolver.Concurrency < 1 {
		return errors.New("concurrency limits must be at least 1")
	}
	if c.Scan.RateLimit < 0 {
		return errors.New("scan.rate_limit must not be negative")
	}
	for i, a := range c.Assets {
		if strings.TrimSpace(a.Host) == "" {
			return fmt.Errorf("assets[%d]: host is required", i)
		}
		if a.Criticality != 0 && (a.Criticality < 1 || a.Criticality > 5) {
			return fmt.Errorf("assets[%d]: criticality %d outside 1..5", i, a.Criticality)
		}
	}
	return nil
}

// AssetTable resolves per-host business context. It implements
// engine.AssetContexts.
type AssetTable struct {
	exact  map[string]engine.AssetContext
	suffix []suffixEntry
}

type suffixEntry struct {
	host string
	ctx  engine.AssetContext
}

// NewAssetTable indexes entries. Unset fields take the values of
// engine.DefaultAssetContext.
func NewAssetTable(entries []AssetEntry) *AssetTable {
	t := &AssetTable{exact: make(map[string]engine.AssetContext, len(entries))}
	for _, e := range entries {
		host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(e.Host)), ".")
		host = strings.TrimPrefix(host, "*.")
		ac := e.context()
		t.exact[host] = ac
		t.suffix = append(t.suffix, suffixEntry{host: host, ctx: ac})
	}
	// Longest suffix wins.
	sort.SliceStable(t.suffix, func(i, j int) bool {
		return len(t.suffix[i].host) > len(t.suffix[j].host)
	})
	return t
}

func (e AssetEntry) context() engine.AssetContext {
	ac := engine.DefaultAssetContext()
	if e.Criticality != 0 {
		ac.Criticality = e.Criticality
	}
	if e.DataClass != "" {
		ac.DataClass = strings.ToUpper(e.DataClass)
	}
	if e.InternetExposed != nil {
		ac.InternetExposed = *e.InternetExposed
	}
	ac.Owner = e.Owner
	return ac
}

// Lookup returns the context of host: an exact entry, else the entry with
// the longest matching parent domain, else the default.
func (t *AssetTable) Lookup(host string) engine.AssetContext {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	if ac, ok := t.exact[h]; ok {
		return ac
	}
	for _, s := range t.suffix {
		if strings.HasSuffix(h, "."+s.host) {
			return s.ctx
		}
	}
	return engine.DefaultAssetContext()
}
