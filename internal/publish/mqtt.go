// Package publish mirrors the gauge display to an MQTT broker so dashboards
// and home-automation systems can follow a run.
package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/diagnostic"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPublishTimeout = 5 * time.Second

type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	PublishTimeout time.Duration
}

// Client is the subset of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	client Client
	cfg    Config
	logger *logging.Logger
}

// Message is the retained payload published on every display change.
type Message struct {
	SessionID      string                     `json:"session_id,omitempty"`
	Outcome        session.Outcome            `json:"outcome"`
	Display        session.Display            `json:"display"`
	DownloadText   string                     `json:"download_text"`
	UploadText     string                     `json:"upload_text"`
	Interpretation *diagnostic.Interpretation `json:"interpretation,omitempty"`
	Time           int64                      `json:"time"`
}

// Dial connects to the broker with auto-reconnect enabled.
func Dial(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	logger := logging.NewLogger("publish")
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", logging.Field{Key: "broker", Value: cfg.Broker})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, reconnecting", logging.Field{Key: "error", Value: err})
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, gaugeerrors.ErrConnectionFailed("mqtt broker "+cfg.Broker, token.Error())
	}
	return New(client, cfg), nil
}

func New(client Client, cfg Config) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Publisher{client: client, cfg: cfg, logger: logging.NewLogger("publish")}
}

func NewMessage(snap session.Snapshot, now time.Time) Message {
	msg := Message{
		SessionID:    snap.SessionID,
		Outcome:      snap.Outcome,
		Display:      snap.Display,
		DownloadText: snap.Display.DownloadRateText(),
		UploadText:   snap.Display.UploadRateText(),
		Time:         now.Unix(),
	}
	if interp, ok := diagnostic.ForSnapshot(snap); ok {
		msg.Interpretation = interp
	}
	return msg
}

// Publish sends snap as a retained message and waits for the broker to
// acknowledge it.
func (p *Publisher) Publish(snap session.Snapshot) error {
	payload, err := json.Marshal(NewMessage(snap, time.Now()))
	if err != nil {
		return fmt.Errorf("encode display: %w", err)
	}
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, true, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return gaugeerrors.ErrConnectionFailed("publish to "+p.cfg.Topic, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return gaugeerrors.ErrConnectionFailed("publish to "+p.cfg.Topic, err)
	}
	return nil
}

// Run publishes every snapshot from updates. Publish failures are logged and
// the next snapshot is tried; the broker connection heals on its own.
func (p *Publisher) Run(ctx context.Context, updates <-chan session.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := p.Publish(snap); err != nil {
				p.logger.Warn("display publish failed", logging.Field{Key: "error", Value: err})
			}
		}
	}
}

// Close disconnects, allowing 250ms for in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
