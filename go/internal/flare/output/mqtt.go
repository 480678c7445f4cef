package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	strobeOn       = "ON"
	strobeOff      = "OFF"
	publishTimeout = 2 * time.Second
)

// MQTTStrobe switches a networked light (a Tasmota or zigbee2mqtt plug, a
// stage strobe bridge) by publishing ON/OFF to a command topic. The broker
// connection is opened lazily on the first output.
type MQTTStrobe struct {
	topic string

	mu        sync.Mutex
	newClient func() mqtt.Client
	client    mqtt.Client
	ready     bool
	active    bool
}

func NewMQTTStrobe(broker, clientID, topic string) *MQTTStrobe {
	return &MQTTStrobe{
		topic: topic,
		newClient: func() mqtt.Client {
			opts := mqtt.NewClientOptions().
				AddBroker(broker).
				SetClientID(clientID).
				SetConnectTimeout(5 * time.Second).
				SetAutoReconnect(false)
			return mqtt.NewClient(opts)
		},
	}
}

func (s *MQTTStrobe) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topic == "" {
		return fmt.Errorf("mqtt strobe: empty topic")
	}
	s.ready = true
	return nil
}

func (s *MQTTStrobe) BeginOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || !s.acquire() {
		return
	}
	if s.publish(strobeOn) {
		s.active = true
	}
}

func (s *MQTTStrobe) EndOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.client == nil {
		return
	}
	s.publish(strobeOff)
	s.active = false
}

// Release switches the light off if it was left on and drops the broker
// connection.
func (s *MQTTStrobe) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	if s.active {
		s.publish(strobeOff)
		s.active = false
	}
	s.client.Disconnect(250)
	s.client = nil
}

// acquire must be called with s.mu held.
func (s *MQTTStrobe) acquire() bool {
	if s.client != nil && s.client.IsConnectionOpen() {
		return true
	}
	client := s.newClient()
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		log.Error().Str("topic", s.topic).Msg("strobe broker connect timed out")
		return false
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", s.topic).Msg("failed to connect strobe broker")
		return false
	}
	s.client = client
	return true
}

// publish must be called with s.mu held.
func (s *MQTTStrobe) publish(payload string) bool {
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Error().Str("topic", s.topic).Str("payload", payload).Msg("strobe publish timed out")
		return false
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", s.topic).Str("payload", payload).Msg("failed to publish strobe command")
		return false
	}
	return true
}
