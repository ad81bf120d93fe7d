// Package nats mirrors chat messages into NATS JetStream.
package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// defaultRetention is how long mirrored messages stay in the stream.
const defaultRetention = 30 * 24 * time.Hour

// Config holds the mirror connection settings.
type Config struct {
	URL   string
	Token string

	// CAFile alone enables server verification; CertFile and KeyFile add a
	// client certificate.
	CAFile   string
	CertFile string
	KeyFile  string

	Retention time.Duration
}

// Conn is a JetStream connection with the chat stream provisioned.
type Conn struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Dial connects to NATS and makes sure the chat stream exists.
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Conn, error) {
	log = log.Named("nats")

	opts := []nats.Option{
		nats.Name("chat-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("mirror disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("mirror reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("mirror connection error", zap.Error(err))
		}),
	}

	tlsConfig, err := loadTLS(cfg)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c := &Conn{nc: nc, js: js, logger: log}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	if err := c.ensureStream(ctx, retention); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info("mirror connected", zap.String("url", nc.ConnectedUrl()), zap.String("stream", StreamName))
	return c, nil
}

func (c *Conn) ensureStream(ctx context.Context, retention time.Duration) error {
	_, err := c.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      retention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  10 * time.Minute,
		Description: "Chat messages observed by the gateway",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.logger.Info("created mirror stream", zap.Duration("retention", retention))
	return nil
}

// Name identifies the mirror in readiness reports.
func (c *Conn) Name() string { return "nats" }

// Check reports whether the connection is up and the stream reachable.
func (c *Conn) Check(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return errors.New("not connected")
	}
	if _, err := c.js.Stream(ctx, StreamName); err != nil {
		return fmt.Errorf("stream %s: %w", StreamName, err)
	}
	return nil
}

// Close drains and closes the connection.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}

// loadTLS returns nil when no TLS material is configured.
func loadTLS(cfg Config) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" {
		return nil, nil
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("NATS client certificate needs both cert and key files")
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
