// Package mqtt publishes the outage sensors to an MQTT broker using Home
// Assistant MQTT discovery, as an alternative to the REST state API.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"plannedoutage/internal/config"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	publishTimeout = 5 * time.Second
)

// Entity describes one sensor announced through discovery
type Entity struct {
	EntityID string
	Name     string
	UniqueID string
	Icon     string
}

// objectID is the part of the entity ID after the domain
func (e Entity) objectID() string {
	if i := strings.IndexByte(e.EntityID, '.'); i >= 0 {
		return e.EntityID[i+1:]
	}
	return e.EntityID
}

// Device groups both sensors under one device in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// DiscoveryConfig is the retained payload on the discovery config topic
type DiscoveryConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	ObjectID            string  `json:"object_id"`
	Icon                string  `json:"icon,omitempty"`
	StateTopic          string  `json:"state_topic"`
	JSONAttributesTopic string  `json:"json_attributes_topic"`
	AvailabilityTopic   string  `json:"availability_topic"`
	Device              *Device `json:"device,omitempty"`
}

// Publisher implements state.Sink on top of a paho client
type Publisher struct {
	client    paho.Client
	cfg       config.MQTTConfig
	icp       string
	logger    *zap.Logger
	mu        sync.Mutex
	entities  map[string]Entity
	announced map[string]bool
}

// New connects to the configured broker. The availability topic is set as
// the last will so Home Assistant marks the sensors unavailable if we vanish.
func New(cfg config.MQTTConfig, icp string, logger *zap.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	p := newPublisher(nil, cfg, icp, logger)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(p.availabilityTopic(), payloadOffline, 1, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		p.logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		// Discovery must be re-sent after a broker restart that lost retained messages
		p.mu.Lock()
		p.announced = make(map[string]bool)
		p.mu.Unlock()
		c.Publish(p.availabilityTopic(), 1, true, payloadOnline)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.client = client
	return p, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client paho.Client, cfg config.MQTTConfig, icp string, logger *zap.Logger) *Publisher {
	return newPublisher(client, cfg, icp, logger)
}

func newPublisher(client paho.Client, cfg config.MQTTConfig, icp string, logger *zap.Logger) *Publisher {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = config.DefaultDiscoveryPrefix
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}
	return &Publisher{
		client:    client,
		cfg:       cfg,
		icp:       icp,
		logger:    logger.Named("mqtt"),
		entities:  make(map[string]Entity),
		announced: make(map[string]bool),
	}
}

// AddEntity declares a sensor. Only declared entities are published.
func (p *Publisher) AddEntity(e Entity) {
	p.mu.Lock()
	p.entities[e.EntityID] = e
	p.mu.Unlock()
}

// Entities returns the declared entities ordered by entity ID
func (p *Publisher) Entities() []Entity {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entity, 0, len(p.entities))
	for _, e := range p.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (p *Publisher) nodeID() string {
	return "plannedoutage_" + strings.ToLower(p.icp)
}

func (p *Publisher) baseTopic() string {
	return fmt.Sprintf("%s/%s", p.cfg.TopicPrefix, strings.ToLower(p.icp))
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/status"
}

// StateTopic returns the topic carrying the raw state of an entity
func (p *Publisher) StateTopic(e Entity) string {
	return fmt.Sprintf("%s/%s/state", p.baseTopic(), e.objectID())
}

// AttributesTopic returns the topic carrying the JSON attributes of an entity
func (p *Publisher) AttributesTopic(e Entity) string {
	return fmt.Sprintf("%s/%s/attributes", p.baseTopic(), e.objectID())
}

// DiscoveryTopic returns the Home Assistant discovery config topic of an entity
func (p *Publisher) DiscoveryTopic(e Entity) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.cfg.DiscoveryPrefix, p.nodeID(), e.objectID())
}

// Discovery builds the discovery payload for an entity
func (p *Publisher) Discovery(e Entity) DiscoveryConfig {
	return DiscoveryConfig{
		Name:                e.Name,
		UniqueID:            e.UniqueID,
		ObjectID:            e.objectID(),
		Icon:                e.Icon,
		StateTopic:          p.StateTopic(e),
		JSONAttributesTopic: p.AttributesTopic(e),
		AvailabilityTopic:   p.availabilityTopic(),
		Device: &Device{
			Identifiers:  []string{p.nodeID()},
			Name:         "Planned Power Outages " + p.icp,
			Manufacturer: "Vector",
			Model:        "Planned outage API",
		},
	}
}

// PublishState announces the entity on first use, then publishes its state
// and attributes as retained messages
func (p *Publisher) PublishState(entityID, state string, attributes map[string]interface{}) error {
	p.mu.Lock()
	entity, ok := p.entities[entityID]
	needsDiscovery := ok && !p.announced[entityID]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("entity %s not declared for MQTT", entityID)
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	if needsDiscovery {
		payload, err := json.Marshal(p.Discovery(entity))
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", entityID, err)
		}
		if err := p.publish(p.DiscoveryTopic(entity), payload); err != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", entityID, err)
		}
		p.mu.Lock()
		p.announced[entityID] = true
		p.mu.Unlock()
		p.logger.Info("Announced sensor via MQTT discovery",
			zap.String("entity_id", entityID),
			zap.String("topic", p.DiscoveryTopic(entity)))
	}

	if err := p.publish(p.StateTopic(entity), []byte(state)); err != nil {
		return fmt.Errorf("failed to publish state for %s: %w", entityID, err)
	}

	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes for %s: %w", entityID, err)
	}
	if err := p.publish(p.AttributesTopic(entity), attrs); err != nil {
		return fmt.Errorf("failed to publish attributes for %s: %w", entityID, err)
	}

	p.logger.Debug("Published state via MQTT",
		zap.String("entity_id", entityID),
		zap.String("state", state))
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	return token.Error()
}

// Close marks the sensors offline and disconnects from the broker
func (p *Publisher) Close() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	if err := p.publish(p.availabilityTopic(), []byte(payloadOffline)); err != nil {
		p.logger.Warn("Failed to publish offline status", zap.Error(err))
	}
	p.client.Disconnect(250)
}
