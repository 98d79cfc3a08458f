package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/smartfinance/ledgerbot/internal/config"
	"github.com/smartfinance/ledgerbot/internal/tools"
)

// queueSize bounds the events waiting for the broker. Events beyond it
// are dropped and counted.
const queueSize = 256

// Totals supplies the running daily total published after each change.
type Totals interface {
	TotalInRange(ctx context.Context, userID, start, end string) (float64, error)
	Today() string
}

// publisher is the subset of the connection manager used to send
// messages.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection and forwards ledger change
// events to the broker. It implements [tools.EventSink].
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	totals   Totals
	logger   *slog.Logger
	cm       atomic.Pointer[autopaho.ConnectionManager]
	queue    chan tools.Event
	dropped  atomic.Int64
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. Events reported before the
// connection is up wait in the queue.
func New(cfg config.MQTTConfig, instanceID string, totals Totals, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:      cfg,
		clientID: clientID(cfg.ClientID, instanceID),
		totals:   totals,
		logger:   logger,
		queue:    make(chan tools.Event, queueSize),
	}
}

// LedgerChanged queues ev for publishing. It never blocks.
func (p *Publisher) LedgerChanged(_ context.Context, ev tools.Event) {
	select {
	case p.queue <- ev:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("mqtt event queue full, dropping event",
			"user_id", ev.UserID, "tool", ev.Tool, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded because the queue was
// full.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Start connects to the MQTT broker and publishes queued events until
// ctx is cancelled. On every (re-)connect it publishes a retained
// "online" status.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.statusTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.publishStatus(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx, cm)
	return nil
}

// Stop publishes an "offline" status and closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishStatus(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) statusTopic() string {
	return p.cfg.BaseTopic + "/status"
}

func (p *Publisher) eventsTopic(userID string) string {
	return p.cfg.BaseTopic + "/ledger/" + topicLevel(userID) + "/events"
}

func (p *Publisher) todayTopic(userID string) string {
	return p.cfg.BaseTopic + "/ledger/" + topicLevel(userID) + "/today"
}

// topicLevel makes s safe as a single topic level. Separators and
// wildcards would otherwise let a user id span or match other topics.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}

// --- Publishing ---

func (p *Publisher) run(ctx context.Context, conn publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.publishEvent(ctx, conn, ev)
		}
	}
}

// publishEvent sends ev to the user's events topic, then refreshes the
// retained daily total. Failures are logged; the ledger is already
// updated and the chat reply never waits on the broker.
func (p *Publisher) publishEvent(ctx context.Context, conn publisher, ev tools.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("mqtt marshal ledger event", "tool", ev.Tool, "error", err)
		return
	}

	topic := p.eventsTopic(ev.UserID)
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		p.logger.Warn("mqtt event publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt ledger event published", "topic", topic, "tool", ev.Tool)

	p.publishToday(ctx, conn, ev.UserID)
}

func (p *Publisher) publishToday(ctx context.Context, conn publisher, userID string) {
	if p.totals == nil {
		return
	}
	today := p.totals.Today()
	total, err := p.totals.TotalInRange(ctx, userID, today, today)
	if err != nil {
		p.logger.Warn("mqtt daily total lookup failed", "user_id", userID, "error", err)
		return
	}

	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   p.todayTopic(userID),
		Payload: []byte(strconv.FormatFloat(total, 'f', -1, 64)),
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt daily total publish failed", "user_id", userID, "error", err)
	}
}

func (p *Publisher) publishStatus(ctx context.Context, conn publisher, status string) {
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt status publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt status published", "status", status)
	}
}
