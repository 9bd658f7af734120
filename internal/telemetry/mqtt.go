// Package telemetry publishes relay events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/util"
	"github.com/airlock-project/airlock/internal/version"
)

// ErrDisabled is returned by NewMQTTHandler when telemetry is switched off.
var ErrDisabled = errors.New("mqtt telemetry is disabled")

// Topic suffixes, appended to the configured prefix.
const (
	TopicStatus     = "status"
	TopicSessions   = "sessions"
	TopicGames      = "games"
	TopicMovement   = "games/movement"
	TopicAntiCheat  = "anticheat"
	TopicModeration = "moderation"
	TopicAdmin      = "admin"
)

// routes maps forwarded bus events to their topic.
var routes = map[events.EventType]string{
	events.EventServerStatus:       TopicStatus,
	events.EventClientConnected:    TopicSessions,
	events.EventClientDisconnected: TopicSessions,
	events.EventClientRejected:     TopicSessions,
	events.EventGameCreated:        TopicGames,
	events.EventGameStarted:        TopicGames,
	events.EventGameEnded:          TopicGames,
	events.EventGameDestroyed:      TopicGames,
	events.EventPlayerJoined:       TopicGames,
	events.EventPlayerLeft:         TopicGames,
	events.EventPlayerVent:         TopicMovement,
	events.EventCheatReported:      TopicAntiCheat,
	events.EventClientKicked:       TopicModeration,
	events.EventCompatChanged:      TopicAdmin,
}

// MQTTHandler forwards bus events to MQTT as JSON documents.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// metadata is merged into every message.
	metadata map[string]interface{}
}

// NewMQTTHandler configures a client for the broker in cfg. It does not
// connect until Start.
func NewMQTTHandler(cfg config.MQTTConfig, serverName string, eventBus *events.EventBus, logger zerolog.Logger) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "airlock"
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   logger,
		metadata: map[string]interface{}{
			"server":      serverName,
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version.AppVersion,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("airlock-" + sysInfo.Hostname)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects, forwards events until ctx is cancelled, then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.publish(TopicAdmin, map[string]interface{}{"event": "shutdown"})
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for eventType := range routes {
		h.eventBus.Subscribe(eventType, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for eventType := range routes {
		h.eventBus.Unsubscribe(eventType, "mqtt")
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	topic, ok := routes[event.Type]
	if !ok {
		return nil
	}
	h.publish(topic, map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends payload at QoS 1. It is a no-op while disconnected.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}
	topic := h.Topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["data"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
