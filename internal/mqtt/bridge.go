package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/events"
)

const (
	defaultStatsInterval = time.Minute
	subscriberBuffer     = 256
)

// publisher is the slice of [autopaho.ConnectionManager] the bridge
// needs. Tests substitute a recorder.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge forwards bus events to an MQTT broker.
type Bridge struct {
	cfg        config.MQTTConfig
	instanceID string
	bus        *events.Bus
	usage      *DailyUsage
	logger     *slog.Logger

	statsInterval time.Duration
	cm            *autopaho.ConnectionManager
	pub           publisher
}

// New creates a Bridge but does not connect. instanceID makes the
// client ID unique per data directory.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:           cfg,
		instanceID:    instanceID,
		bus:           bus,
		usage:         NewDailyUsage(nil),
		logger:        logger.With("component", "mqtt"),
		statsInterval: defaultStatsInterval,
	}
}

// Usage exposes the token accumulator.
func (b *Bridge) Usage() *DailyUsage {
	return b.usage
}

// Start connects to the broker and forwards events until ctx is
// cancelled. A broker that is down at startup is not an error; autopaho
// keeps retrying in the background.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishAvailability(ctx, cm, "online")
			b.publishStats(ctx, cm)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.clientID(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so nothing emitted during the
	// handshake is missed by the usage counters.
	ch := b.bus.Subscribe(subscriberBuffer)
	defer b.bus.Unsubscribe(ch)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm
	b.pub = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	b.forward(ctx, ch)
	return nil
}

// Stop publishes "offline" and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// forward drains ch until ctx is done or the channel closes, publishing
// every event and refreshing the stats topic on a ticker.
func (b *Bridge) forward(ctx context.Context, ch <-chan events.Event) {
	ticker := time.NewTicker(b.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.usage.Observe(e)
			b.publishEvent(ctx, e)
		case <-ticker.C:
			b.publishStats(ctx, b.pub)
		}
	}
}

func (b *Bridge) publishEvent(ctx context.Context, e events.Event) {
	if b.pub == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("mqtt event marshal failed", "kind", e.Kind, "error", err)
		return
	}
	if _, err := b.pub.Publish(ctx, &paho.Publish{
		Topic:   b.eventTopic(e),
		QoS:     0,
		Payload: payload,
	}); err != nil {
		b.logger.Debug("mqtt event publish failed", "topic", b.eventTopic(e), "error", err)
	}
}

// statsPayload is the retained document on <prefix>/stats.
type statsPayload struct {
	InstanceID    string        `json:"instance_id"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Today         UsageSnapshot `json:"today"`
}

func (b *Bridge) statsMessage() ([]byte, error) {
	return json.Marshal(statsPayload{
		InstanceID:    b.instanceID,
		Version:       buildinfo.Version,
		UptimeSeconds: int64(buildinfo.Uptime().Seconds()),
		Today:         b.usage.Snapshot(),
	})
}

func (b *Bridge) publishStats(ctx context.Context, pub publisher) {
	if pub == nil {
		return
	}
	payload, err := b.statsMessage()
	if err != nil {
		b.logger.Warn("mqtt stats marshal failed", "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.statsTopic(),
		QoS:     0,
		Retain:  true,
		Payload: payload,
	}); err != nil {
		b.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, pub publisher, state string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		QoS:     1,
		Retain:  true,
		Payload: []byte(state),
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "state", state, "error", err)
	}
}

// --- Topic helpers ---

func (b *Bridge) baseTopic() string {
	prefix := strings.Trim(b.cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "docent"
	}
	return prefix
}

func (b *Bridge) availabilityTopic() string {
	return b.baseTopic() + "/availability"
}

func (b *Bridge) statsTopic() string {
	return b.baseTopic() + "/stats"
}

func (b *Bridge) eventTopic(e events.Event) string {
	return b.baseTopic() + "/events/" + topicSegment(e.Source) + "/" + topicSegment(e.Kind)
}

func (b *Bridge) clientID() string {
	id := b.cfg.ClientID
	if id == "" {
		id = "docent"
	}
	if len(b.instanceID) >= 8 {
		id += "-" + b.instanceID[len(b.instanceID)-8:]
	}
	return id
}

// topicSegment strips MQTT wildcard and separator characters.
func topicSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
