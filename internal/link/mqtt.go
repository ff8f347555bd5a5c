package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/jkaberg/smartstick/internal/mqtt"
)

// PubSub is the slice of the MQTT client the link needs. Lost is closed
// when the broker connection drops.
type PubSub interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Lost() <-chan struct{}
}

// MQTTDialer opens the client end of a stick's topic pair.
type MQTTDialer struct {
	Client   PubSub
	DeviceID string
}

// Dial subscribes to the device's up topic and publishes on its down topic.
func (d *MQTTDialer) Dial(ctx context.Context) (Conn, error) {
	return newMQTTConn(d.Client, mqtt.DownTopic(d.DeviceID), mqtt.UpTopic(d.DeviceID))
}

// ListenMQTT opens the device end of the topic pair.
func ListenMQTT(client PubSub, deviceID string) (Conn, error) {
	return newMQTTConn(client, mqtt.UpTopic(deviceID), mqtt.DownTopic(deviceID))
}

type mqttConn struct {
	client    PubSub
	sendTopic string
	recvTopic string
	q         *frameQueue
	once      sync.Once
}

func newMQTTConn(client PubSub, sendTopic, recvTopic string) (*mqttConn, error) {
	c := &mqttConn{
		client:    client,
		sendTopic: sendTopic,
		recvTopic: recvTopic,
		q:         newFrameQueue(),
	}
	if err := client.Subscribe(recvTopic, func(payload []byte) {
		c.q.push(append([]byte(nil), payload...))
	}); err != nil {
		return nil, fmt.Errorf("failed to open MQTT link on %s: %w", recvTopic, err)
	}
	go c.watch()
	return c, nil
}

// watch ends the link when the broker connection is lost.
func (c *mqttConn) watch() {
	select {
	case <-c.client.Lost():
		c.q.shutdown()
	case <-c.q.done:
	}
}

func (c *mqttConn) Send(ctx context.Context, frame []byte) error {
	if c.q.isDone() || !c.client.IsConnected() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Publish(c.sendTopic, frame, false)
}

func (c *mqttConn) Frames() <-chan []byte { return c.q.ch }

func (c *mqttConn) Done() <-chan struct{} { return c.q.done }

func (c *mqttConn) Close() error {
	var err error
	c.once.Do(func() {
		c.q.shutdown()
		if c.client.IsConnected() {
			err = c.client.Unsubscribe(c.recvTopic)
		}
	})
	return err
}

var _ PubSub = (*mqtt.Client)(nil)
