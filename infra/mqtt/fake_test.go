package mqtt

import (
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type delivery struct {
	topic string
	qos   byte
}

// fakeBroker stands in for the Paho client and records traffic.
type fakeBroker struct {
	opts     *paho.ClientOptions
	sent     []delivery
	subs     []delivery
	failures []error
}

// newFakeBroker swaps the client constructor for the duration of t.
func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	fb := &fakeBroker{}
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		fb.opts = o
		return fb
	}
	t.Cleanup(func() { newMQTTClient = prev })
	return fb
}

func (f *fakeBroker) Connect() paho.Token {
	if f.opts != nil && f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return doneToken{}
}

func (f *fakeBroker) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	f.sent = append(f.sent, delivery{topic, qos})
	if len(f.failures) == 0 {
		return doneToken{}
	}
	err := f.failures[0]
	f.failures = f.failures[1:]
	return doneToken{err: err}
}

func (f *fakeBroker) Subscribe(topic string, qos byte, _ paho.MessageHandler) paho.Token {
	f.subs = append(f.subs, delivery{topic, qos})
	return doneToken{}
}

func (f *fakeBroker) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return doneToken{}
}
func (f *fakeBroker) Unsubscribe(...string) paho.Token        { return doneToken{} }
func (f *fakeBroker) AddRoute(string, paho.MessageHandler)    {}
func (f *fakeBroker) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (f *fakeBroker) IsConnected() bool                       { return true }
func (f *fakeBroker) IsConnectionOpen() bool                  { return true }
func (f *fakeBroker) Disconnect(uint)                         {}

type doneToken struct{ err error }

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Error() error                   { return d.err }
func (d doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeMessage is an inbound broker message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Ack()              {}
