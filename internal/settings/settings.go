// Package settings loads process settings for the goAbuse binaries from
// the environment, an optional .env file and an optional YAML file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ABUSE_REDIS_ADDR.
const EnvPrefix = "ABUSE"

var (
	// ErrUnknownPolicy is returned by Policy for a name that is neither
	// configured nor a built-in preset.
	ErrUnknownPolicy = errors.New("settings: unknown policy")
)

// Settings is the full process configuration.
type Settings struct {
	App      AppSettings               `mapstructure:"app"`
	Redis    RedisSettings             `mapstructure:"redis"`
	Limiter  LimiterSettings           `mapstructure:"limiter"`
	Policies map[string]PolicySettings `mapstructure:"policies"`
}

// AppSettings configures the HTTP listener and logging.
type AppSettings struct {
	Env      string `mapstructure:"env"`
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
}

// RedisSettings configures the Redis connection. More than one address
// selects a cluster client.
type RedisSettings struct {
	Addrs        []string      `mapstructure:"addrs"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LimiterSettings maps onto goAbuse.Config.
type LimiterSettings struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	LatencyHistograms bool          `mapstructure:"latency_histograms"`
	AuditEnabled      bool          `mapstructure:"audit_enabled"`
	AuditBufferSize   int           `mapstructure:"audit_buffer_size"`
}

// PolicySettings is a named policy as written in the settings file.
type PolicySettings struct {
	ShortWindow    time.Duration `mapstructure:"short_window"`
	ShortThreshold int           `mapstructure:"short_threshold"`
	ShortBlock     time.Duration `mapstructure:"short_block"`
	LongWindow     time.Duration `mapstructure:"long_window"`
	LongThreshold  int           `mapstructure:"long_threshold"`
	LongBlock      time.Duration `mapstructure:"long_block"`
	LedgerTTL      time.Duration `mapstructure:"ledger_ttl"`
	Crossing       string        `mapstructure:"crossing"`
}

// Options selects the optional files Load reads. Empty paths are skipped.
type Options struct {
	// DotEnv is loaded into the process environment first. Variables that
	// are already set win.
	DotEnv string
	// File is a YAML settings file. Environment variables override it.
	File string
}

// Load reads settings from opts and the environment.
func Load(opts Options) (*Settings, error) {
	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.DotEnv, err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	if err := bindEnvs(v, []string{
		"app.env",
		"app.addr",
		"app.log_level",
		"redis.addrs",
		"redis.password",
		"redis.db",
		"redis.tls_enabled",
		"redis.pool_size",
		"redis.dial_timeout",
		"redis.read_timeout",
		"redis.write_timeout",
		"limiter.timeout",
		"limiter.key_prefix",
		"limiter.metrics_enabled",
		"limiter.latency_histograms",
		"limiter.audit_enabled",
		"limiter.audit_buffer_size",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.Redis.Addrs = splitAddrs(s.Redis.Addrs)

	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 32)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")

	v.SetDefault("limiter.timeout", goAbuse.DefaultTimeout.String())
	v.SetDefault("limiter.key_prefix", "limiter")
	v.SetDefault("limiter.metrics_enabled", true)
	v.SetDefault("limiter.latency_histograms", true)
	v.SetDefault("limiter.audit_enabled", false)
	v.SetDefault("limiter.audit_buffer_size", 1024)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// splitAddrs accepts both a YAML list and a comma separated env value.
func splitAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, addr := range strings.Split(item, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// LimiterConfig returns the goAbuse.Config described by s.
func (s *Settings) LimiterConfig() goAbuse.Config {
	cfg := goAbuse.DefaultConfig()
	cfg.Timeout = s.Limiter.Timeout
	cfg.KeyPrefix = s.Limiter.KeyPrefix
	cfg.Metrics.Enabled = s.Limiter.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = s.Limiter.LatencyHistograms
	cfg.Audit.Enabled = s.Limiter.AuditEnabled
	cfg.Audit.BufferSize = s.Limiter.AuditBufferSize
	return cfg
}

var presets = map[string]func() goAbuse.Policy{
	"password_reset":       goAbuse.PasswordResetPolicy,
	"email_verification":   goAbuse.EmailVerificationPolicy,
	"newsletter_subscribe": goAbuse.NewsletterSubscribePolicy,
}

// Policy returns the named policy. Configured policies take precedence
// over presets of the same name.
func (s *Settings) Policy(name string) (goAbuse.Policy, error) {
	if ps, ok := s.Policies[name]; ok {
		p, err := ps.policy()
		if err != nil {
			return goAbuse.Policy{}, fmt.Errorf("policy %s: %w", name, err)
		}
		return p, nil
	}
	if preset, ok := presets[name]; ok {
		return preset(), nil
	}
	return goAbuse.Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
}

// PolicyNames lists configured and preset policy names, sorted.
func (s *Settings) PolicyNames() []string {
	seen := make(map[string]struct{}, len(presets)+len(s.Policies))
	for name := range presets {
		seen[name] = struct{}{}
	}
	for name := range s.Policies {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ps PolicySettings) policy() (goAbuse.Policy, error) {
	p := goAbuse.NewPolicy(
		goAbuse.TierPolicy{Window: ps.ShortWindow, Threshold: ps.ShortThreshold, Block: ps.ShortBlock},
		goAbuse.TierPolicy{Window: ps.LongWindow, Threshold: ps.LongThreshold, Block: ps.LongBlock},
	)
	if ps.LedgerTTL > 0 {
		p.LedgerTTL = ps.LedgerTTL
	}

	switch strings.ToLower(strings.TrimSpace(ps.Crossing)) {
	case "", "at":
		p.Crossing = goAbuse.CrossAtThreshold
	case "above":
		p.Crossing = goAbuse.CrossAboveThreshold
	default:
		return goAbuse.Policy{}, fmt.Errorf("crossing must be \"at\" or \"above\", got %q", ps.Crossing)
	}

	return goAbuse.CheckPolicy(p)
}
