package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"dvbrx/internal/config"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

const (
	connectTimeout    = 10 * time.Second
	keepAlive         = 30 * time.Second
	maxReconnect      = 2 * time.Minute
	disconnectQuiesce = 500 // milliseconds
)

// ErrConnectionFailed wraps broker connection failures.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// client is the subset of the paho client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher implements the player's Indicator and StateSink over MQTT.
type Publisher struct {
	client   client
	prefix   string
	clientID string
	qos      byte
	logger   *slog.Logger
	now      func() time.Time
}

// Connect dials the broker in cfg and announces the daemon online.
func Connect(cfg config.MQTT, logger *slog.Logger) (*Publisher, error) {
	p := newPublisher(nil, cfg, logger)
	opts := buildClientOptions(cfg)
	opts.SetWill(p.topic("status"), mustJSON(statusPayload{
		Status:    "offline",
		ClientID:  cfg.ClientID,
		Reason:    "unexpected_disconnect",
		Timestamp: timestamp(p.now()),
	}), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		p.logger.Info("mqtt connected",
			logging.String(logging.FieldEventType, "mqtt_connected"),
			logging.String("broker", cfg.Broker),
		)
		p.publish("status", 1, true, statusPayload{Status: "online", ClientID: p.clientID, Timestamp: timestamp(p.now())})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.WarnWithContext(p.logger, "mqtt connection lost", "mqtt_disconnected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the broker is reachable"),
			logging.String(logging.FieldImpact, "telemetry paused until reconnect"),
		)
	})

	c := pahomqtt.NewClient(opts)
	p.client = c
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return p, nil
}

func newPublisher(c client, cfg config.MQTT, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:   c,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		clientID: cfg.ClientID,
		qos:      byte(cfg.QoS),
		logger:   logging.NewComponentLogger(logger, "telemetry"),
		now:      time.Now,
	}
}

func buildClientOptions(cfg config.MQTT) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	return opts
}

// SetRXGood publishes the receive-good flag.
func (p *Publisher) SetRXGood(good bool) {
	value := "0"
	if good {
		value = "1"
	}
	p.publishRaw("rx_good", p.qos, true, value)
}

// SelectBand publishes the active band.
func (p *Publisher) SelectBand(band source.Band) {
	p.publish("band", p.qos, true, newBandPayload(band))
}

// PublishState publishes the core state and the status snapshot.
func (p *Publisher) PublishState(kind source.Kind, state source.CoreState, snap source.Snapshot) {
	now := p.now()
	p.publish("state", p.qos, true, newStatePayload(kind, state, now))
	p.publish("signal", p.qos, false, newSignalPayload(kind, snap, now))
}

// Close announces a graceful shutdown and disconnects.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	token := p.client.Publish(p.topic("status"), 1, true, mustJSON(statusPayload{
		Status:    "offline",
		ClientID:  p.clientID,
		Reason:    "graceful_shutdown",
		Timestamp: timestamp(p.now()),
	}))
	token.WaitTimeout(time.Second)
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

func (p *Publisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

func (p *Publisher) publish(name string, qos byte, retained bool, payload any) {
	p.publishRaw(name, qos, retained, mustJSON(payload))
}

func (p *Publisher) publishRaw(name string, qos byte, retained bool, payload string) {
	if p.client == nil {
		return
	}
	topic := p.topic(name)
	token := p.client.Publish(topic, qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.logger.Debug("mqtt publish failed",
				logging.String("topic", topic),
				logging.Error(err),
			)
		}
	}()
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
