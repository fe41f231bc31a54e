// Package mqtt mirrors bounty events onto an MQTT broker so that agents can
// follow a bounty without polling the HTTP API.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/ports"
)

const (
	DefaultPrefix  = "clawbounty"
	publishTimeout = 5 * time.Second
)

// Client is the part of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is one MQTT publication derived from an event.
type Message struct {
	Topic   string
	Payload []byte
}

type envelope struct {
	Type    string       `json:"type"`
	Payload domain.Event `json:"payload"`
}

// Publisher consumes the event bus and republishes to MQTT.
type Publisher struct {
	client Client
	bus    ports.EventBus
	prefix string
}

// Connect dials brokerURL and returns a publisher bound to bus.
func Connect(bus ports.EventBus, brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("clawbounty-server-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL)
	return NewPublisher(client, bus, DefaultPrefix), nil
}

func NewPublisher(client Client, bus ports.EventBus, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{client: client, bus: bus, prefix: prefix}
}

// Messages returns the publications for ev: one on the bounty's own topic and
// one on the shared events topic.
func (p *Publisher) Messages(ev domain.Event) ([]Message, error) {
	data, err := json.Marshal(envelope{Type: ev.Type, Payload: ev})
	if err != nil {
		return nil, err
	}
	return []Message{
		{Topic: fmt.Sprintf("%s/bounty/%s", p.prefix, ev.BountyID), Payload: data},
		{Topic: p.prefix + "/events", Payload: data},
	}, nil
}

// Run relays events until ctx is done or the subscription closes.
func (p *Publisher) Run(ctx context.Context) error {
	ch, err := p.bus.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	logger.Info("MQTT: Started event consumer", "prefix", p.prefix)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev domain.Event) {
	msgs, err := p.Messages(ev)
	if err != nil {
		logger.Warn("MQTT: failed to encode event", "type", ev.Type, "error", err)
		return
	}
	for _, m := range msgs {
		token := p.client.Publish(m.Topic, 0, false, m.Payload)
		if !token.WaitTimeout(publishTimeout) {
			logger.Warn("MQTT: publish timed out", "topic", m.Topic)
			continue
		}
		if err := token.Error(); err != nil {
			logger.Warn("MQTT: publish failed", "topic", m.Topic, "error", err)
		}
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
