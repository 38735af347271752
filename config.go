package goAbuse

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAbuse/internal/keyspace"
	"github.com/MrEthical07/goAbuse/internal/script"
)

// DefaultTimeout bounds each store round trip when Config.Timeout is unset.
const DefaultTimeout = 250 * time.Millisecond

// ledgerSlack is added to the longest window when LedgerTTL is left zero.
const ledgerSlack = time.Minute

// Config holds limiter-wide settings. Per-action thresholds live in Policy.
type Config struct {
	// Timeout bounds each store call made by Check, Gate and Inspect.
	Timeout time.Duration
	// KeyPrefix is the first key segment. Defaults to "limiter".
	KeyPrefix string
	Metrics   MetricsConfig
	Audit     AuditConfig
}

// MetricsConfig toggles in-process counters and the check latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// AuditConfig controls asynchronous delivery of block events.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the settings used by New.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		KeyPrefix: keyspace.DefaultPrefix,
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate checks c for values the limiter cannot run with.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("Timeout must be > 0")
	}
	if c.KeyPrefix == "" {
		return errors.New("KeyPrefix must not be empty")
	}
	if _, err := keyspace.For(c.KeyPrefix, "probe", "probe"); err != nil {
		return fmt.Errorf("KeyPrefix is invalid: %w", err)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}

// CrossingMode decides when a tier's count crosses its threshold.
type CrossingMode uint8

const (
	// CrossAtThreshold blocks once the count reaches the threshold: with a
	// threshold of 5 the fifth attempt in the window is rejected.
	CrossAtThreshold CrossingMode = iota
	// CrossAboveThreshold blocks once the count exceeds the threshold: with a
	// threshold of 5 the sixth attempt is rejected.
	CrossAboveThreshold
)

func (m CrossingMode) String() string {
	switch m {
	case CrossAtThreshold:
		return "at"
	case CrossAboveThreshold:
		return "above"
	default:
		return "invalid"
	}
}

// TierPolicy is one threshold: Threshold attempts within Window lead to a
// block lasting Block. Durations must be whole seconds.
type TierPolicy struct {
	Window    time.Duration
	Threshold int
	Block     time.Duration
}

// Policy is the pair of thresholds applied to one protected action. Both
// tiers are evaluated for every attempt; the short tier wins when both
// cross together.
type Policy struct {
	Short TierPolicy
	Long  TierPolicy
	// LedgerTTL is how long an idle scope's records live. Zero means the
	// longest window plus one minute.
	LedgerTTL time.Duration
	Crossing  CrossingMode
}

// NewPolicy returns a Policy with LedgerTTL derived from the windows and
// the default CrossAtThreshold mode.
func NewPolicy(short, long TierPolicy) Policy {
	p := Policy{Short: short, Long: long}
	p.LedgerTTL = p.ledgerTTL()
	return p
}

// CheckPolicy returns p if it is valid. The error matches ErrInvalidPolicy.
// Call it where policies are defined so a bad policy fails at startup
// instead of on the first Check.
func CheckPolicy(p Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return p, nil
}

// MustPolicy is like CheckPolicy but panics if p is invalid. It suits
// package-level policy variables.
func MustPolicy(p Policy) Policy {
	checked, err := CheckPolicy(p)
	if err != nil {
		panic(err)
	}
	return checked
}

// Validate checks p. A Policy that fails validation is never sent to the
// store.
// Check and Inspect validate again before any store call.
func (p Policy) Validate() error {
	if err := p.Short.validate("Short"); err != nil {
		return err
	}
	if err := p.Long.validate("Long"); err != nil {
		return err
	}
	if p.LedgerTTL < 0 {
		return errors.New("LedgerTTL must be >= 0")
	}
	if p.LedgerTTL > 0 {
		if !wholeSeconds(p.LedgerTTL) {
			return errors.New("LedgerTTL must be a whole number of seconds")
		}
		if p.LedgerTTL < p.horizon() {
			return errors.New("LedgerTTL must be >= the longest window")
		}
	}
	if p.Crossing != CrossAtThreshold && p.Crossing != CrossAboveThreshold {
		return errors.New("Crossing mode is invalid")
	}
	return nil
}

func (t TierPolicy) validate(name string) error {
	if t.Window <= 0 || !wholeSeconds(t.Window) {
		return fmt.Errorf("%s Window must be a positive whole number of seconds", name)
	}
	if t.Threshold <= 0 {
		return fmt.Errorf("%s Threshold must be > 0", name)
	}
	if t.Block <= 0 || !wholeSeconds(t.Block) {
		return fmt.Errorf("%s Block must be a positive whole number of seconds", name)
	}
	return nil
}

func (p Policy) horizon() time.Duration {
	if p.Long.Window > p.Short.Window {
		return p.Long.Window
	}
	return p.Short.Window
}

func (p Policy) ledgerTTL() time.Duration {
	if p.LedgerTTL > 0 {
		return p.LedgerTTL
	}
	return p.horizon() + ledgerSlack
}

// effectiveThreshold converts the crossing mode into the ">=" comparison
// performed by the script.
func (p Policy) effectiveThreshold(t TierPolicy) int64 {
	if p.Crossing == CrossAboveThreshold {
		return int64(t.Threshold) + 1
	}
	return int64(t.Threshold)
}

func (p Policy) scriptArgs() script.Args {
	return script.Args{
		ShortWindow:    seconds(p.Short.Window),
		ShortThreshold: p.effectiveThreshold(p.Short),
		ShortBlock:     seconds(p.Short.Block),
		LongWindow:     seconds(p.Long.Window),
		LongThreshold:  p.effectiveThreshold(p.Long),
		LongBlock:      seconds(p.Long.Block),
		LedgerTTL:      seconds(p.ledgerTTL()),
	}
}

func wholeSeconds(d time.Duration) bool {
	return d%time.Second == 0
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// PasswordResetPolicy limits password reset requests per client address:
// more than 3 in 6 minutes blocks for an hour, more than 5 in 15 minutes
// blocks for a day.
func PasswordResetPolicy() Policy {
	p := NewPolicy(
		TierPolicy{Window: 6 * time.Minute, Threshold: 3, Block: time.Hour},
		TierPolicy{Window: 15 * time.Minute, Threshold: 5, Block: 24 * time.Hour},
	)
	p.Crossing = CrossAboveThreshold
	return p
}

// EmailVerificationPolicy limits verification code resends per account with
// the same thresholds as PasswordResetPolicy.
func EmailVerificationPolicy() Policy {
	return PasswordResetPolicy()
}

// NewsletterSubscribePolicy limits subscription requests per e-mail: more
// than 5 in a minute blocks for an hour, more than 20 in a day blocks for
// a day.
func NewsletterSubscribePolicy() Policy {
	p := NewPolicy(
		TierPolicy{Window: time.Minute, Threshold: 5, Block: time.Hour},
		TierPolicy{Window: 24 * time.Hour, Threshold: 20, Block: 24 * time.Hour},
	)
	p.Crossing = CrossAboveThreshold
	return p
}
