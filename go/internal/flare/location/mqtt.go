package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mobflare/mobflare/go/internal/models"
)

// ownTracksMessage is the subset of the OwnTracks JSON format we read.
type ownTracksMessage struct {
	Type      string  `json:"_type"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timestamp int64   `json:"tst"`
}

// MQTTProvider follows a location topic published by a phone tracker app.
type MQTTProvider struct {
	client mqtt.Client
	topic  string
	clock  clockwork.Clock

	mu   sync.RWMutex
	last models.Location
	ls   listeners
}

func NewMQTTProvider(broker, clientID, topic string, clock clockwork.Clock) *MQTTProvider {
	p := &MQTTProvider{topic: topic, clock: clock}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(p.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			p.handlePayload(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", p.topic).Msg("location subscribe failed")
			return
		}
		log.Info().Str("topic", p.topic).Msg("subscribed to location updates")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("location broker connection lost")
		p.ls.unavailable()
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect dials the broker. Subscription happens on every (re)connect.
func (p *MQTTProvider) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect location broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTProvider) Close() {
	p.client.Disconnect(250)
}

func (p *MQTTProvider) LastKnown() (models.Location, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.last.Valid
}

// RequestUpdates reports unavailability at once when the broker is not
// reachable; otherwise the next published fix resolves l.
func (p *MQTTProvider) RequestUpdates(l Listener) func() {
	if !p.client.IsConnectionOpen() {
		l.OnUnavailable()
		return func() {}
	}
	return p.ls.add(l)
}

func (p *MQTTProvider) handlePayload(payload []byte) {
	var msg ownTracksMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed location message")
		return
	}
	if msg.Type != "location" {
		return
	}

	at := p.clock.Now()
	if msg.Timestamp > 0 {
		at = time.Unix(msg.Timestamp, 0)
	}
	loc := models.NewLocation(msg.Latitude, msg.Longitude, at)

	p.mu.Lock()
	p.last = loc
	p.mu.Unlock()

	p.ls.location(loc)
}
