package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"i4.energy/across/smsgw/at"
	"i4.energy/across/smsgw/modem"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the modem answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			err := m.Status(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), modem.ResultOf(err))
			return err
		})
	},
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Show the modem battery state (AT+CBC)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			battery, err := m.Battery(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Charge status:    %s\n", battery.ChargeStatus)
			fmt.Fprintf(out, "Connection level: %d%%\n", battery.ConnectionLevel)
			fmt.Fprintf(out, "Battery level:    %d mV\n", battery.BatteryLevel)
			return nil
		})
	},
}

var registrationCmd = &cobra.Command{
	Use:   "registration",
	Short: "Show the network registration status (AT+CREG?)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			status, err := m.NetworkRegistration(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d (%s)\n", int(status), status)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <to> <text>",
	Short: "Send a text mode SMS",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			if err := m.SendSMS(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", args[0])
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <index>",
	Short: "Read a stored SMS as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil || index < 0 {
			return fmt.Errorf("invalid message index %q", args[0])
		}

		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			msg, err := m.ReadSMS(ctx, index)
			if err != nil {
				return err
			}
			return printJSON(cmd, msg)
		})
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every stored SMS (AT+CMGD=1,4)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withModem(cmd, func(ctx context.Context, m *modem.Session) error {
			return m.DeleteAllSMS(ctx)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every received SMS as JSON until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		messages := make(chan at.Message, inboxSize)
		ctx := cmd.Context()
		m, err := openModem(ctx, config, logger, modem.Callbacks{
			NewSMS: func(s *modem.Session, index int) {
				if err := s.RequestSMS(index); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "request SMS %d: %v\n", index, err)
				}
			},
			ReceivedSMS: func(_ *modem.Session, msg at.Message) {
				select {
				case messages <- msg:
				default:
				}
			},
		})
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.EnableSMSNotifications(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s, press Ctrl+C to exit\n", config.SerialPort)

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-messages:
				if err := printJSON(cmd, msg); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, batteryCmd, registrationCmd, sendCmd, readCmd, deleteAllCmd, watchCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
