package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

const publishTimeout = 5 * time.Second

// InboxMessage is the payload published for every received SMS.
type InboxMessage struct {
	Index  int    `json:"index"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

// Bridge connects the gateway to an MQTT broker: requests on the send topic
// are queued, received messages are published to the inbox topic.
type Bridge struct {
	logger *zap.Logger
	config MQTTConfig
	client mqtt.Client
}

// NewBridge connects to the configured broker. Subscriptions are renewed on
// every reconnect.
func NewBridge(config MQTTConfig, logger *zap.Logger, enqueue func(SMSRequest) (string, error)) (*Bridge, error) {
	b := &Bridge{logger: logger, config: config}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connected", zap.String("topic", config.SendTopic))
		token := c.Subscribe(config.SendTopic, 0, func(_ mqtt.Client, m mqtt.Message) {
			b.handleSend(m.Payload(), enqueue)
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("MQTT subscribe failed", zap.String("topic", config.SendTopic), zap.Error(token.Error()))
		}
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", config.Broker, token.Error())
	}
	return b, nil
}

func (b *Bridge) handleSend(payload []byte, enqueue func(SMSRequest) (string, error)) {
	req, err := decodeSMSRequest(payload)
	if err != nil {
		b.logger.Warn("MQTT bad payload", zap.Error(err))
		return
	}

	id, err := enqueue(req)
	if err != nil {
		b.logger.Error("Failed to queue SMS", zap.String("to", req.To), zap.Error(err))
		return
	}
	b.logger.Debug("MQTT request queued", zap.String("id", id))
}

// Publish sends a received message to the inbox topic.
func (b *Bridge) Publish(msg at.Message) {
	payload, err := json.Marshal(InboxMessage{
		Index:  msg.Index,
		Sender: msg.Sender,
		Text:   msg.Text,
		Time:   msg.Time,
	})
	if err != nil {
		b.logger.Error("Failed to encode inbox message", zap.Error(err))
		return
	}

	token := b.client.Publish(b.config.InboxTopic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.logger.Warn("MQTT publish timed out", zap.String("topic", b.config.InboxTopic))
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Error("MQTT publish failed", zap.String("topic", b.config.InboxTopic), zap.Error(err))
	}
}

func (b *Bridge) Close() {
	b.client.Disconnect(500)
}

func decodeSMSRequest(payload []byte) (SMSRequest, error) {
	var req SMSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.To == "" || req.Message == "" {
		return req, errMissingFields
	}
	return req, nil
}
