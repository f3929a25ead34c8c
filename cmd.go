package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"i4.energy/across/smsgw/modem"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "smsgw",
	Short: "SMS gateway for AT command modems",
	Long: `smsgw drives a GSM modem over a serial port with AT commands.

The serve command runs the gateway: an HTTP API for sending and reading
messages and, when a broker is configured, an MQTT bridge that queues
outgoing messages and publishes every received one. The remaining commands
run a single request against the modem and exit.

Settings are read in this order, later sources winning:
  defaults, --config file (.toml or .yaml), environment, flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")

	// Modem connection flags
	rootCmd.PersistentFlags().StringP("port", "p", "/dev/ttyUSB0", "Serial port device")
	rootCmd.PersistentFlags().IntP("baud", "b", 115200, "Baud rate")
	rootCmd.PersistentFlags().String("sim-pin", "", "SIM card PIN code (if required)")
	rootCmd.PersistentFlags().Duration("timeout", modem.DefaultTimeout, "Bound of every modem response wait")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// Execute runs the root command. Cancelling ctx stops long running
// commands.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// setup loads the configuration for cmd and builds the logger.
func setup(cmd *cobra.Command) (*Config, *zap.Logger, error) {
	config, err := LoadConfig(WithDefaults(), WithFile(configPath), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return nil, nil, err
	}

	logger, err := NewLogger(config.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return config, logger, nil
}

// openModem dials the serial port and runs the initialization sequence.
func openModem(ctx context.Context, config *Config, logger *zap.Logger, callbacks modem.Callbacks) (*modem.Session, error) {
	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			Mode: &serial.Mode{
				BaudRate: config.BaudRate,
				DataBits: 8,
				Parity:   serial.NoParity,
				StopBits: serial.OneStopBit,
			},
		}).
		WithTimeout(time.Duration(config.Timeout)).
		WithSimPIN(config.SimPIN).
		WithInit().
		WithLogger(logger.Named("modem")).
		WithCallbacks(callbacks).
		Build()
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return nil, fmt.Errorf("open modem on %s: %w", config.SerialPort, err)
	}
	return m, nil
}

// withModem runs fn against a freshly opened modem and closes it afterwards.
func withModem(cmd *cobra.Command, fn func(ctx context.Context, m *modem.Session) error) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	m, err := openModem(ctx, config, logger, modem.Callbacks{})
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("Failed to close modem", zap.Error(err))
		}
	}()

	return fn(ctx, m)
}
