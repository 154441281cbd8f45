package sinks

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/sensorflow/internal/errors"
	"github.com/tphakala/sensorflow/internal/events"
	"github.com/tphakala/sensorflow/internal/logger"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
	// Timeout bounds connect and publish waits.
	Timeout time.Duration
}

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTT publishes every record above threshold as JSON.
type MQTT struct {
	cfg    MQTTConfig
	dec    Decoder
	log    logger.Logger
	pub    publisher
	client mqtt.Client

	published atomic.Uint64
	failed    atomic.Uint64
}

// DialMQTT connects to the broker and returns the sink.
func DialMQTT(cfg MQTTConfig, dec Decoder, log logger.Logger) (*MQTT, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", logger.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT connected", logger.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, mqttError(errors.CategoryMQTTConnection, fmt.Errorf("connection timeout"), cfg)
	}
	if err := token.Error(); err != nil {
		return nil, mqttError(errors.CategoryMQTTConnection, fmt.Errorf("connection error: %w", err), cfg)
	}
	m := newMQTT(cfg, dec, log, client)
	m.client = client
	return m, nil
}

func newMQTT(cfg MQTTConfig, dec Decoder, log logger.Logger, pub publisher) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MQTT{cfg: cfg, dec: dec, log: log, pub: pub}
}

// OnNewDataReady implements events.Listener. Records without a result
// above the threshold are not published.
func (m *MQTT) OnNewDataReady(ev events.Event) error {
	rec, err := m.dec.Decode(ev)
	if err != nil {
		return err
	}
	if len(rec.Results) == 0 {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return mqttError(errors.CategoryMQTTPublish, err, m.cfg)
	}

	token := m.pub.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.failed.Add(1)
		return mqttError(errors.CategoryMQTTPublish, fmt.Errorf("publish timeout"), m.cfg)
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		return mqttError(errors.CategoryMQTTPublish, err, m.cfg)
	}
	m.published.Add(1)
	return nil
}

// Published returns the number of delivered messages.
func (m *MQTT) Published() uint64 { return m.published.Load() }

// Failed returns the number of failed publishes.
func (m *MQTT) Failed() uint64 { return m.failed.Load() }

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func mqttError(cat errors.ErrorCategory, err error, cfg MQTTConfig) error {
	return errors.New(err).
		Component(ComponentSinks).
		Category(cat).
		Context("topic", cfg.Topic).
		Build()
}
