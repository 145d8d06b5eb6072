package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// NATSConfig configures the JetStream sink.
type NATSConfig struct {
	URL      string
	Username string
	Password string
	Token    string
	Subject  string
	// Stream is created (or updated) to capture Subject when CreateStream is set.
	Stream       string
	CreateStream bool
	// ClientName identifies the connection on the server.
	ClientName string
}

// wireMessage is the payload consumers of the log subject expect.
type wireMessage struct {
	ProjectID    string `json:"projectId"`
	DeploymentID string `json:"deploymentId"`
	Log          string `json:"log"`
}

// NATSSink publishes events to a JetStream subject. The event ID is sent as
// the message ID so the server discards redeliveries within its dedupe window.
type NATSSink struct {
	cfg  NATSConfig
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSSink creates an unconnected sink.
func NewNATSSink(cfg NATSConfig) *NATSSink {
	return &NATSSink{cfg: cfg}
}

// Connect dials the server and prepares the JetStream context.
func (s *NATSSink) Connect(ctx context.Context) error {
	if s.cfg.URL == "" {
		return errors.New("nats url is required")
	}
	if s.cfg.Subject == "" {
		return errors.New("nats subject is required")
	}

	opts := []nats.Option{nats.Name(s.clientName())}
	switch {
	case s.cfg.Token != "":
		opts = append(opts, nats.Token(s.cfg.Token))
	case s.cfg.Username != "":
		opts = append(opts, nats.UserInfo(s.cfg.Username, s.cfg.Password))
	}

	conn, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if s.cfg.CreateStream {
		if err := s.ensureStream(ctx, js); err != nil {
			conn.Close()
			return err
		}
	}

	s.conn = conn
	s.js = js
	slog.Info("NATS log sink connected",
		logfields.URL(s.cfg.URL),
		logfields.Subject(s.cfg.Subject))
	return nil
}

func (s *NATSSink) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	name := s.cfg.Stream
	if name == "" {
		name = "CONTAINER_LOGS"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Build job log lines",
		Subjects:    []string{s.cfg.Subject},
		Storage:     jetstream.FileStorage,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	slog.Info("Ensured JetStream stream for build logs", "stream", name)
	return nil
}

func (s *NATSSink) clientName() string {
	if s.cfg.ClientName != "" {
		return s.cfg.ClientName
	}
	return "pagedeploy-builder"
}

// Deliver publishes ev and waits for the JetStream acknowledgement.
func (s *NATSSink) Deliver(ctx context.Context, ev LogEvent) error {
	if s.js == nil {
		return ErrNotConnected
	}
	data, err := EncodeWire(ev)
	if err != nil {
		return err
	}
	if _, err := s.js.Publish(ctx, s.cfg.Subject, data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending data and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	s.conn = nil
	s.js = nil
	return err
}

// EncodeWire renders the payload published for ev.
func EncodeWire(ev LogEvent) ([]byte, error) {
	data, err := json.Marshal(wireMessage{
		ProjectID:    ev.ProjectID,
		DeploymentID: ev.DeploymentID,
		Log:          ev.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}
