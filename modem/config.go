package modem

import (
	"time"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

const (
	// DefaultTimeout bounds every wait for a modem response.
	DefaultTimeout = 32 * time.Second
	// DefaultPromptTimeout bounds the wait for the SMS input prompt.
	DefaultPromptTimeout = 5 * time.Second

	DefaultTableSize  = 10
	DefaultPatternMax = 10
	DefaultPayloadMax = 100
	DefaultLineMax    = 100
	DefaultSMSMax     = 100
)

// Callbacks receive unsolicited events and must return quickly.
type Callbacks struct {
	// NewSMS is called when the modem reports a newly stored message. It
	// runs on the byte delivery goroutine, so it may queue reads with
	// RequestSMS but must not wait for a response.
	NewSMS func(s *Session, index int)
	// ReceivedSMS is called from the reader goroutine when a message
	// requested with RequestSMS has been read.
	ReceivedSMS func(s *Session, msg at.Message)
}

// Config holds the engine settings. Build one with NewConfigBuilder.
type Config struct {
	dialer        Dialer
	timeout       time.Duration
	promptTimeout time.Duration
	tableSize     int
	patternMax    int
	payloadMax    int
	lineMax       int
	smsMax        int
	simPIN        string
	initOnStart   bool
	logger        *zap.Logger
	callbacks     Callbacks
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.promptTimeout <= 0 {
		c.promptTimeout = DefaultPromptTimeout
	}
	if c.tableSize <= 0 {
		c.tableSize = DefaultTableSize
	}
	if c.patternMax <= 0 {
		c.patternMax = DefaultPatternMax
	}
	if c.payloadMax <= 0 {
		c.payloadMax = DefaultPayloadMax
	}
	if c.lineMax <= 0 {
		c.lineMax = DefaultLineMax
	}
	if c.smsMax <= 0 {
		c.smsMax = DefaultSMSMax
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithTimeout sets the bound of every response wait.
func (b *ConfigBuilder) WithTimeout(d time.Duration) *ConfigBuilder {
	b.config.timeout = d
	return b
}

func (b *ConfigBuilder) WithPromptTimeout(d time.Duration) *ConfigBuilder {
	b.config.promptTimeout = d
	return b
}

// WithTableSize sets how many expectations may be registered at once.
func (b *ConfigBuilder) WithTableSize(n int) *ConfigBuilder {
	b.config.tableSize = n
	return b
}

func (b *ConfigBuilder) WithPatternMax(n int) *ConfigBuilder {
	b.config.patternMax = n
	return b
}

// WithPayloadMax sets the capacity of each expectation's payload.
func (b *ConfigBuilder) WithPayloadMax(n int) *ConfigBuilder {
	b.config.payloadMax = n
	return b
}

// WithLineMax sets the capacity of the line assembly buffer, terminator
// excluded.
func (b *ConfigBuilder) WithLineMax(n int) *ConfigBuilder {
	b.config.lineMax = n
	return b
}

// WithSMSMax sets the outgoing command buffer size that bounds SMS
// recipients and texts.
func (b *ConfigBuilder) WithSMSMax(n int) *ConfigBuilder {
	b.config.smsMax = n
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithInit makes New run the initialization sequence after the transport
// is up.
func (b *ConfigBuilder) WithInit() *ConfigBuilder {
	b.config.initOnStart = true
	return b
}

func (b *ConfigBuilder) WithLogger(l *zap.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) WithCallbacks(cb Callbacks) *ConfigBuilder {
	b.config.callbacks = cb
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
