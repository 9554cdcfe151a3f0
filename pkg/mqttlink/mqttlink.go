// Package mqttlink connects the door controller to the backend broker.
// It publishes access events and accepts remote lock, unlock and
// schedule updates.
package mqttlink

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/config"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

const (
	topicCommands = "door/commands"
	topicSchedule = "door/schedule"
	topicEvents   = "door/events"

	cmdUnlock = "unlock_door"
	cmdLock   = "lock_door"

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrNotConnected is returned when publishing without a broker
// connection.
var ErrNotConnected = errors.New("mqtt link not connected")

// AccessEvent is published after every completed verification attempt.
type AccessEvent struct {
	UserID    string    `json:"user_id,omitempty"`
	Granted   bool      `json:"granted"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Handlers receives remote commands. Nil fields disable the
// corresponding topic.
type Handlers struct {
	OnUnlock   func()
	OnLock     func()
	OnSchedule func(door.WeekSchedule)
}

// Link is the broker connection.
type Link struct {
	client   mqtt.Client
	handlers Handlers
	log      *logrus.Entry
}

// New builds a link from the MQTT configuration. TLS is used whenever
// a CA certificate is configured.
func New(cfg config.MQTTConfig, handlers Handlers) (*Link, error) {
	l := &Link{handlers: handlers, log: logging.Component("mqtt")}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.CACert != "" {
		tlsCfg, err := tlsConfig(cfg.CACert)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.log.WithError(err).Warn("Broker connection lost")
	})

	l.client = mqtt.NewClient(opts)
	return l, nil
}

func tlsConfig(caPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Connect establishes the broker session and subscribes to the remote
// control topics.
func (l *Link) Connect() error {
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker connect failed: %w", err)
	}
	return nil
}

func (l *Link) onConnect(client mqtt.Client) {
	l.log.Info("Connected to broker")
	client.Subscribe(topicCommands, 1, l.handleCommand)
	client.Subscribe(topicSchedule, 1, l.handleSchedule)
}

func (l *Link) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd := string(msg.Payload())
	l.log.WithField("command", cmd).Info("Remote command received")
	switch cmd {
	case cmdUnlock:
		if l.handlers.OnUnlock != nil {
			l.handlers.OnUnlock()
		}
	case cmdLock:
		if l.handlers.OnLock != nil {
			l.handlers.OnLock()
		}
	default:
		l.log.WithField("command", cmd).Warn("Unknown remote command")
	}
}

func (l *Link) handleSchedule(_ mqtt.Client, msg mqtt.Message) {
	var schedule door.WeekSchedule
	if err := json.Unmarshal(msg.Payload(), &schedule); err != nil {
		l.log.WithError(err).Warn("Malformed schedule update")
		return
	}
	if err := schedule.Validate(); err != nil {
		l.log.WithError(err).Warn("Rejected schedule update")
		return
	}
	if l.handlers.OnSchedule != nil {
		l.handlers.OnSchedule(schedule)
	}
}

// PublishAccessEvent reports a verification attempt to the backend.
func (l *Link) PublishAccessEvent(event AccessEvent) error {
	if !l.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal access event: %w", err)
	}
	token := l.client.Publish(topicEvents, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("access event publish timed out")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (l *Link) Close() {
	l.client.Disconnect(250)
}
