/*
DESCRIPTION
  mqtt.go provides an Indicator that publishes the recording state to a Home
  Assistant instance as an MQTT binary sensor.

AUTHORS
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package indicator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ausocean/utils/logging"
)

// Home Assistant discovery prefix and MQTT parameters.
const (
	discoveryPrefix = "homeassistant"
	qos             = 1
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250 // ms
)

// Availability and state payloads.
const (
	online   = "online"
	offline  = "offline"
	stateOn  = "on"
	stateOff = "off"
)

// publisher is the part of mqtt.Client used to publish.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig holds the broker connection parameters for an MQTT indicator.
type MQTTConfig struct {
	Host     string // host or host:port, tcp:// is assumed.
	Username string
	Password string
	Device   string // Home Assistant device name.
}

// MQTT is an Indicator that reports recording state as a Home Assistant
// binary_sensor. Discovery config and current state are published on every
// connection, and the broker marks the sensor offline if the connection is
// lost.
type MQTT struct {
	log    logging.Logger
	client mqtt.Client
	pub    publisher
	device string

	mu    sync.Mutex
	state *bool
	wg    sync.WaitGroup
}

// NewMQTT connects to the broker described by c and returns an MQTT
// indicator. Connection is retried in the background if the broker is not
// reachable.
func NewMQTT(c MQTTConfig, l logging.Logger) (*MQTT, error) {
	m := newMQTT(nil, c.Device, l)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(c.Host))
	opts.SetClientID("motioncam-" + c.Device)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(m.topic("availability"), offline, qos, false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		l.Info(pkg+"mqtt connected", "host", c.Host)
		m.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warning(pkg+"mqtt connection lost", "error", err.Error())
	})

	m.client = mqtt.NewClient(opts)
	m.pub = m.client

	tok := m.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		l.Warning(pkg+"mqtt connection pending, retrying in background", "host", c.Host)
		return m, nil
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to mqtt broker: %w", err)
	}
	return m, nil
}

func newMQTT(pub publisher, device string, l logging.Logger) *MQTT {
	return &MQTT{pub: pub, device: device, log: l}
}

func brokerURL(host string) string {
	for _, s := range []string{"tcp://", "ssl://", "ws://", "wss://"} {
		if len(host) >= len(s) && host[:len(s)] == s {
			return host
		}
	}
	return "tcp://" + host
}

func (m *MQTT) topic(kind string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/%s", discoveryPrefix, m.device, kind)
}

// discovery returns the Home Assistant discovery config payload.
func (m *MQTT) discovery() []byte {
	b, _ := json.Marshal(map[string]string{
		"component":          "binary_sensor",
		"device_class":       "motion",
		"name":               m.device,
		"state_topic":        m.topic("state"),
		"availability_topic": m.topic("availability"),
		"payload_on":         stateOn,
		"payload_off":        stateOff,
	})
	return b
}

func (m *MQTT) onConnect() {
	m.publish(m.topic("config"), m.discovery())
	m.publish(m.topic("availability"), online)
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()
	if s != nil {
		m.publish(m.topic("state"), payload(*s))
	}
}

// SetRecording implements Indicator. The state is published without waiting
// for acknowledgement.
func (m *MQTT) SetRecording(on bool) {
	m.mu.Lock()
	m.state = &on
	m.mu.Unlock()
	m.publish(m.topic("state"), payload(on))
}

func payload(on bool) string {
	if on {
		return stateOn
	}
	return stateOff
}

func (m *MQTT) publish(topic string, p interface{}) {
	tok := m.pub.Publish(topic, qos, false, p)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if !tok.WaitTimeout(publishTimeout) {
			m.log.Warning(pkg+"mqtt publish timed out", "topic", topic)
			return
		}
		if err := tok.Error(); err != nil {
			m.log.Warning(pkg+"mqtt publish failed", "topic", topic, "error", err.Error())
		}
	}()
}

// Close marks the sensor offline and disconnects from the broker.
func (m *MQTT) Close() {
	m.publish(m.topic("availability"), offline)
	m.wg.Wait()
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
	}
}
