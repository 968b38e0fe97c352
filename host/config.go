package host

import (
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/ardnew/softhcd/config"
	"github.com/ardnew/softhcd/pkg"
)

// HubConfig holds the hub class state machine tunables.
type HubConfig struct {
	// MaxPorts is the port count assumed when a hub stalls its descriptor.
	MaxPorts int
	// AssumePortsOnStall keeps enumerating a hub whose descriptor request
	// stalls. When false such a hub fails enumeration.
	AssumePortsOnStall bool
	PowerOnDelay       time.Duration
	PortResetDelay     time.Duration
	// PortResetPolls bounds how often a port is polled for reset completion.
	PortResetPolls int
}

// TimerConfig sizes the timer wheel driving deferred messages.
type TimerConfig struct {
	Tick time.Duration
	Max  time.Duration
}

// Config holds every tunable of the host core.
type Config struct {
	PoolSize int

	Debounce      time.Duration
	ResetTime     time.Duration
	ResetRecovery time.Duration
	ResumeTime    time.Duration

	SetupRetryLimit int
	SetupRetryDelay time.Duration
	NRDYRetryLimit  int

	ClearStallRetries int
	ClearStallDelay   time.Duration

	EnumRetryDelay time.Duration

	// EnumRequestTimeout bounds every control request issued by
	// enumeration and the hub driver.
	EnumRequestTimeout time.Duration

	Hub   HubConfig
	Timer TimerConfig
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:           32,
		Debounce:           100 * time.Millisecond,
		ResetTime:          50 * time.Millisecond,
		ResetRecovery:      10 * time.Millisecond,
		ResumeTime:         20 * time.Millisecond,
		SetupRetryLimit:    3,
		SetupRetryDelay:    5 * time.Millisecond,
		NRDYRetryLimit:     3,
		ClearStallRetries:  10,
		ClearStallDelay:    10 * time.Millisecond,
		EnumRetryDelay:     50 * time.Millisecond,
		EnumRequestTimeout: 5 * time.Second,
		Hub: HubConfig{
			MaxPorts:           4,
			AssumePortsOnStall: true,
			PowerOnDelay:       100 * time.Millisecond,
			PortResetDelay:     20 * time.Millisecond,
			PortResetPolls:     10,
		},
		Timer: TimerConfig{
			Tick: 5 * time.Millisecond,
			Max:  5 * time.Second,
		},
	}
}

// ConfigFromC reads the usb.* keys of c. Keys that are absent take their
// values from DefaultConfig.
func ConfigFromC(c *config.C) (Config, error) {
	cfg := Config{
		PoolSize:           c.GetInt("usb.pool_size", 0),
		Debounce:           c.GetDuration("usb.debounce", 0),
		ResetTime:          c.GetDuration("usb.reset_time", 0),
		ResetRecovery:      c.GetDuration("usb.reset_recovery", 0),
		ResumeTime:         c.GetDuration("usb.resume_time", 0),
		SetupRetryLimit:    c.GetInt("usb.setup_retry_limit", 0),
		SetupRetryDelay:    c.GetDuration("usb.setup_retry_delay", 0),
		NRDYRetryLimit:     c.GetInt("usb.nrdy_retry_limit", 0),
		ClearStallRetries:  c.GetInt("usb.clear_stall_retries", 0),
		ClearStallDelay:    c.GetDuration("usb.clear_stall_delay", 0),
		EnumRetryDelay:     c.GetDuration("usb.enum_retry_delay", 0),
		EnumRequestTimeout: c.GetDuration("usb.enum_request_timeout", 0),
		Hub: HubConfig{
			MaxPorts:       c.GetInt("usb.hub.max_ports", 0),
			PowerOnDelay:   c.GetDuration("usb.hub.power_on_delay", 0),
			PortResetDelay: c.GetDuration("usb.hub.port_reset_delay", 0),
			PortResetPolls: c.GetInt("usb.hub.port_reset_polls", 0),
		},
		Timer: TimerConfig{
			Tick: c.GetDuration("usb.timer.tick", 0),
			Max:  c.GetDuration("usb.timer.max", 0),
		},
	}

	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return Config{}, err
	}

	// A false boolean is indistinguishable from unset after the merge.
	cfg.Hub.AssumePortsOnStall = c.GetBool("usb.hub.assume_ports_on_stall", true)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c Config) Validate() error {
	switch {
	case c.PoolSize < 4:
		return fmt.Errorf("%w: pool size %d below 4", pkg.ErrInvalidParameter, c.PoolSize)
	case c.Timer.Tick <= 0 || c.Timer.Max <= c.Timer.Tick:
		return fmt.Errorf("%w: timer tick %v, max %v", pkg.ErrInvalidParameter, c.Timer.Tick, c.Timer.Max)
	case c.Hub.MaxPorts < 1 || c.Hub.MaxPorts > MaxHubPorts:
		return fmt.Errorf("%w: hub max ports %d", pkg.ErrInvalidParameter, c.Hub.MaxPorts)
	case c.EnumRequestTimeout <= 0:
		return fmt.Errorf("%w: enumeration request timeout %v", pkg.ErrInvalidParameter, c.EnumRequestTimeout)
	case c.SetupRetryLimit < 1 || c.NRDYRetryLimit < 1:
		return fmt.Errorf("%w: retry limits must be positive", pkg.ErrInvalidParameter)
	}
	return nil
}
