package system

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/airsstack/airssys-rt/mailbox"
)

// Configuration errors.
var (
	ErrInvalidCapacity  = errors.New("mailbox capacity must be >= 0")
	ErrInvalidOverflow  = errors.New("unknown overflow strategy")
	ErrInvalidTimeout   = errors.New("timeouts must be positive")
	ErrInvalidRetention = errors.New("dead letter retention must be > 0")
)

// Config tunes an actor system. The zero value is not valid; start from
// DefaultConfig.
type Config struct {
	// Name identifies the system in logs and metrics.
	Name string `yaml:"name"`

	// MailboxCapacity is the default bounded-mailbox size for spawned
	// actors. Zero means unbounded mailboxes by default.
	MailboxCapacity int `yaml:"mailbox_capacity"`

	// Overflow is the default overflow strategy for bounded mailboxes:
	// "block", "drop_newest" or "drop_oldest".
	Overflow string `yaml:"overflow"`

	// ShutdownTimeout bounds how long a graceful actor stop may take
	// before the runtime cuts the actor off.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout is the default timeout for Request calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DeliveryTimeout bounds how long the router waits on one Block
	// mailbox before recording a dead letter and moving on. Zero means
	// the router waits indefinitely (pure backpressure).
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// DeadLetterRetention is how many recent dead letters are kept for
	// inspection.
	DeadLetterRetention int `yaml:"dead_letter_retention"`

	// Workers caps the task pool running actor loops. Zero means
	// unlimited.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the configuration used when no overrides are
// given.
func DefaultConfig() Config {
	return Config{
		Name:                "airssys",
		MailboxCapacity:     1024,
		Overflow:            "block",
		ShutdownTimeout:     5 * time.Second,
		RequestTimeout:      5 * time.Second,
		DeliveryTimeout:     time.Second,
		DeadLetterRetention: 128,
		Workers:             0,
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.MailboxCapacity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.MailboxCapacity)
	}

	if _, err := c.OverflowStrategy(); err != nil {
		return err
	}

	if c.ShutdownTimeout <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.DeadLetterRetention <= 0 {
		return ErrInvalidRetention
	}

	return nil
}

// OverflowStrategy translates the configured overflow name.
func (c Config) OverflowStrategy() (mailbox.OverflowStrategy, error) {
	switch c.Overflow {
	case "", "block":
		return mailbox.Block, nil
	case "drop_newest":
		return mailbox.DropNewest, nil
	case "drop_oldest":
		return mailbox.DropOldest, nil
	default:
		return mailbox.Block, fmt.Errorf("%w: %q", ErrInvalidOverflow, c.Overflow)
	}
}

// UnmarshalYAML decodes a config document, leaving defaults in place
// for unset fields. Durations are written as Go duration strings
// ("5s", "250ms").
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Name                *string `yaml:"name"`
		MailboxCapacity     *int    `yaml:"mailbox_capacity"`
		Overflow            *string `yaml:"overflow"`
		ShutdownTimeout     *string `yaml:"shutdown_timeout"`
		RequestTimeout      *string `yaml:"request_timeout"`
		DeliveryTimeout     *string `yaml:"delivery_timeout"`
		DeadLetterRetention *int    `yaml:"dead_letter_retention"`
		Workers             *int    `yaml:"workers"`
	}

	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}

	if r.Name != nil {
		c.Name = *r.Name
	}

	if r.MailboxCapacity != nil {
		c.MailboxCapacity = *r.MailboxCapacity
	}

	if r.Overflow != nil {
		c.Overflow = *r.Overflow
	}

	if r.DeadLetterRetention != nil {
		c.DeadLetterRetention = *r.DeadLetterRetention
	}

	if r.Workers != nil {
		c.Workers = *r.Workers
	}

	for _, d := range []struct {
		in  *string
		out *time.Duration
	}{
		{in: r.ShutdownTimeout, out: &c.ShutdownTimeout},
		{in: r.RequestTimeout, out: &c.RequestTimeout},
		{in: r.DeliveryTimeout, out: &c.DeliveryTimeout},
	} {
		if d.in == nil {
			continue
		}

		parsed, err := time.ParseDuration(*d.in)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", *d.in, err)
		}

		*d.out = parsed
	}

	return nil
}

// LoadConfig reads a YAML config file, applying defaults for any field
// the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
