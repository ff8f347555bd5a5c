package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	topicRoot  = "smartstick"
	opTimeout  = 5 * time.Second
	defaultQoS = byte(1) // At least once delivery
)

// Client wraps the MQTT client with additional functionality
type Client struct {
	client   mqtt.Client
	logger   *logrus.Logger
	lost     chan struct{}
	lostOnce sync.Once
}

// NewClient creates a new MQTT client with support for both WebSocket and
// standard MQTT protocols. role distinguishes the device host from monitors
// in the broker's client list.
func NewClient(mqttURL, deviceID, role string, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	clientID := newClientID(role, deviceID)
	c := &Client{logger: logger, lost: make(chan struct{})}

	opts := mqtt.NewClientOptions()

	// Handle different protocol schemes
	var brokerURL string
	switch parsedURL.Scheme {
	case "ws":
		brokerURL = mqttURL
		logger.Debug("Using WebSocket MQTT connection")
	case "wss":
		brokerURL = mqttURL
		logger.Debug("Using secure WebSocket MQTT connection")
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	case "mqtt":
		brokerURL = strings.Replace(mqttURL, "mqtt://", "tcp://", 1)
		logger.Debug("Using standard MQTT connection (TCP)")
	case "mqtts":
		brokerURL = strings.Replace(mqttURL, "mqtts://", "ssl://", 1)
		logger.Debug("Using secure MQTT connection (SSL/TLS)")
		// Disable certificate verification to support self-signed certs
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	default:
		return nil, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	// A dropped link is a session teardown, not something to paper over.
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(opTimeout)
	opts.SetOrderMatters(true)

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.connectionLost(err)
	})

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return nil, fmt.Errorf("connect to MQTT broker timed out after %s", opTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return c, nil
}

// newClientID is unique per process start, so concurrent monitors of one
// stick do not evict each other at the broker.
func newClientID(role, deviceID string) string {
	return fmt.Sprintf("smartstick-%s-%s-%s", role, deviceID, uuid.NewString())
}

func (c *Client) connectionLost(err error) {
	c.logger.WithError(err).Warn("MQTT connection lost")
	c.lostOnce.Do(func() { close(c.lost) })
}

// Lost is closed once the broker connection drops. Auto-reconnect is off,
// so a closed channel stays closed.
func (c *Client) Lost() <-chan struct{} { return c.lost }

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, defaultQoS, retained, payload)

	// Avoid potential deadlocks: wait for completion with a timeout instead of indefinitely.
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, opTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Trace("Published MQTT message")

	return nil
}

// Subscribe subscribes to a topic, handing each payload to handler.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, defaultQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})

	// Prevent indefinite blocking on slow or lost connections.
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", topic, opTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.WithField("topic", topic).Debug("Subscribed to MQTT topic")
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("unsubscribe from topic %s timed out after %s", topic, opTimeout)
	}
	return token.Error()
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	select {
	case <-c.lost:
		return false
	default:
	}
	return c.client.IsConnected()
}

// Disconnect disconnects the client
func (c *Client) Disconnect(quiesce uint) {
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}

// BaseTopic is the topic prefix for one stick.
func BaseTopic(deviceID string) string {
	return BuildCleanTopic(topicRoot, deviceID)
}

// UpTopic carries device→client frames.
func UpTopic(deviceID string) string {
	return BaseTopic(deviceID) + "/up"
}

// DownTopic carries client→device frames.
func DownTopic(deviceID string) string {
	return BaseTopic(deviceID) + "/down"
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
