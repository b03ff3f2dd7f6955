package telemetry

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"dvbrx/internal/config"
	"dvbrx/internal/logging"
	"dvbrx/internal/source"
)

type doneToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []message
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, qos: qos, retained: retained, payload: payload.(string)})
	return newDoneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) find(topic string) (message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i], true
		}
	}
	return message{}, false
}

func newTestPublisher() (*Publisher, *fakeClient) {
	fc := &fakeClient{}
	p := newPublisher(fc, config.MQTT{TopicPrefix: "dvbrx/", ClientID: "rx1", QoS: 1}, logging.NewNop())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p, fc
}

func TestPublishStateAndSignal(t *testing.T) {
	p, fc := newTestPublisher()
	snap := source.Snapshot{
		Kind:       source.KindLongmynd,
		Standard:   source.StandardDVBS2,
		Modulation: source.Modulation{Name: "QPSK 3/4", Threshold: 4.0, HasThreshold: true},
		Freq:       10491500,
		Quality:    source.NewMeter(7.5, "dB"),
		Provider:   "QO-100",
		Service:    "A71A",
		Streams:    map[int]source.Codec{256: source.CodecFromStreamType(27)},
	}
	p.PublishState(source.KindLongmynd, source.CoreState{Started: true, Running: true, Locked: true, Counter: 4}, snap)

	msg, ok := fc.find("dvbrx/state")
	if !ok || !msg.retained || msg.qos != 1 {
		t.Fatalf("state message: %+v", msg)
	}
	var state statePayload
	if err := json.Unmarshal([]byte(msg.payload), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Kind != "longmynd" || !state.Locked || state.Counter != 4 || state.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected state payload %+v", state)
	}

	msg, ok = fc.find("dvbrx/signal")
	if !ok || msg.retained {
		t.Fatalf("signal message: %+v", msg)
	}
	var signal signalPayload
	if err := json.Unmarshal([]byte(msg.payload), &signal); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if signal.Standard != "DVB-S2" || signal.Margin == nil || *signal.Margin != 3.5 {
		t.Fatalf("unexpected signal payload %+v", signal)
	}
	if signal.Streams["256"] != source.CodecFromStreamType(27).String() {
		t.Fatalf("unexpected streams %v", signal.Streams)
	}
	if signal.SymbolRate != nil {
		t.Fatal("invalid meters must be omitted")
	}
}

func TestIndicatorTopics(t *testing.T) {
	p, fc := newTestPublisher()
	p.SetRXGood(true)
	if msg, _ := fc.find("dvbrx/rx_good"); msg.payload != "1" || !msg.retained {
		t.Fatalf("rx_good: %+v", msg)
	}
	p.SetRXGood(false)
	if msg, _ := fc.find("dvbrx/rx_good"); msg.payload != "0" {
		t.Fatalf("rx_good: %+v", msg)
	}

	p.SelectBand(source.Band{Kind: source.KindLongmynd, LOFreq: 9750000, GPIOID: 2})
	msg, ok := fc.find("dvbrx/band")
	if !ok {
		t.Fatal("expected band message")
	}
	var band bandPayload
	if err := json.Unmarshal([]byte(msg.payload), &band); err != nil {
		t.Fatalf("decode band: %v", err)
	}
	if band.GPIO != 2 || band.LOFreq != 9750000 || band.Kind != "longmynd" {
		t.Fatalf("unexpected band payload %+v", band)
	}
}

func TestCloseAnnouncesOffline(t *testing.T) {
	p, fc := newTestPublisher()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	msg, ok := fc.find("dvbrx/status")
	if !ok {
		t.Fatal("expected status message")
	}
	var status statusPayload
	if err := json.Unmarshal([]byte(msg.payload), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "offline" || status.Reason != "graceful_shutdown" || status.ClientID != "rx1" {
		t.Fatalf("unexpected status %+v", status)
	}
	if !fc.disconnected {
		t.Fatal("expected disconnect")
	}
}

func TestClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTT{Broker: "tcp://127.0.0.1:1883", ClientID: "rx1"})
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "127.0.0.1:1883" {
		t.Fatalf("unexpected servers %v", opts.Servers)
	}
	if opts.ClientID != "rx1" || !opts.AutoReconnect || !opts.CleanSession {
		t.Fatalf("unexpected options %+v", opts)
	}
}
