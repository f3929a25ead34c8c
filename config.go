package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `toml:"bind_address" yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `toml:"serial_port" yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `toml:"baud_rate" yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `toml:"sim_pin" yaml:"sim_pin"`
	// Timeout bounds every wait for a modem response
	Timeout Duration `toml:"timeout" yaml:"timeout"`

	// RatePerMin limits outgoing messages queued through MQTT
	RatePerMin int `toml:"rate_per_min" yaml:"rate_per_min"`
	// MaxRetries is how often a queued message is sent again after a failure
	MaxRetries int `toml:"max_retries" yaml:"max_retries"`

	MQTT MQTTConfig `toml:"mqtt" yaml:"mqtt"`
}

// MQTTConfig configures the MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" yaml:"client_id"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	// SendTopic carries {"to","message"} requests
	SendTopic string `toml:"send_topic" yaml:"send_topic"`
	// InboxTopic receives every incoming SMS
	InboxTopic string `toml:"inbox_topic" yaml:"inbox_topic"`
}

// Duration reads "32s" style values from config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Timeout = Duration(32 * time.Second)
		c.RatePerMin = 30
		c.MaxRetries = 3
		c.MQTT.ClientID = "sms-gw-1"
		c.MQTT.SendTopic = "sms/send"
		c.MQTT.InboxTopic = "sms/inbox"
		return nil
	}
}

// WithFile loads configuration from a TOML or YAML file, chosen by
// extension. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".toml":
			err = toml.Unmarshal(data, c)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, c)
		default:
			return fmt.Errorf("config %s: unsupported format %q", path, ext)
		}
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if timeout := os.Getenv("MODEM_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.Timeout = Duration(d)
			}
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTT.Broker = broker
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTT.Username = user
		}

		if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
			c.MQTT.Password = pass
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags that were set
// explicitly.
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "port":
				c.SerialPort = f.Value.String()
			case "baud":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.Timeout = Duration(d)
				}
			case "mqtt-broker":
				c.MQTT.Broker = f.Value.String()
			}
		})
		return nil
	}
}
