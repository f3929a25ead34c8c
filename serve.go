package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the MQTT bridge",
	Long: `Run the gateway until interrupted.

HTTP:
  POST   /sms           send {"to","message"} and wait for the modem
  POST   /sms/queue     queue {"to","message","id"} with retries
  GET    /sms/{index}   read a stored message
  DELETE /sms           delete every stored message
  GET    /status, /battery, /registration

MQTT (when --mqtt-broker is set): requests on the send topic are queued,
received messages are published to the inbox topic.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	serveCmd.Flags().String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables MQTT")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	gateway := NewGateway(logger.Named("gateway"), config.RatePerMin, config.MaxRetries)

	m, err := openModem(ctx, config, logger, gateway.Callbacks())
	if err != nil {
		logger.Error("Failed to create modem", zap.Error(err))
		return err
	}

	logger.Info("Starting SMS Gateway", zap.String("port", config.SerialPort), zap.Int("baud", config.BaudRate))

	if err := m.EnableSMSNotifications(); err != nil {
		logger.Warn("Failed to enable SMS notifications", zap.Error(err))
	}

	var publish func(at.Message)
	if config.MQTT.Broker != "" {
		bridge, err := NewBridge(config.MQTT, logger.Named("mqtt"), gateway.Enqueue)
		if err != nil {
			logger.Error("MQTT disabled", zap.Error(err))
		} else {
			defer bridge.Close()
			publish = bridge.Publish
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.Run(ctx, m, publish)
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.Named("server"),
			Modem:   m,
			Gateway: gateway,
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Error("Failed to gracefully shutdown server", zap.Error(serr))
	}

	stop()
	logger.Info("Closing modem connection")
	if cerr := m.Close(); cerr != nil {
		logger.Error("Failed to close modem", zap.Error(cerr))
	}
	wg.Wait()

	return err
}
