// Package lmtp implements the LMTP ingestion listener. Every message the
// MTA hands over is matched to a mailing list and fed through the post
// pipeline; delivery status is reported per recipient as LMTP requires.
package lmtp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/emersion/go-smtp"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
	"github.com/oromail/listd/server/pipeline"
)

// Backend accepts LMTP connections and hands each transaction to the post
// pipeline.
type Backend struct {
	hostname  string
	addr      string
	database  *db.Database
	processor *pipeline.Processor
	server    *smtp.Server
	appCtx    context.Context

	maxMessageSize int64
	maxRecipients  int

	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

// New builds the LMTP backend and its go-smtp server from the listener
// configuration.
func New(appCtx context.Context, database *db.Database, processor *pipeline.Processor, cfg *config.LMTPServerConfig) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("lmtp listen address is not configured")
	}
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	backend := &Backend{
		hostname:       hostname,
		addr:           cfg.Addr,
		database:       database,
		processor:      processor,
		appCtx:         appCtx,
		maxMessageSize: cfg.GetMaxMessageSize(),
		maxRecipients:  cfg.GetMaxRecipients(),
	}

	s := smtp.NewServer(backend)
	s.Addr = cfg.Addr
	s.Domain = hostname
	s.LMTP = true
	s.Network = "tcp"
	s.MaxMessageBytes = backend.maxMessageSize
	s.MaxRecipients = backend.maxRecipients

	readTimeout, err := cfg.GetReadTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}
	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}
	s.ReadTimeout = readTimeout
	s.WriteTimeout = writeTimeout

	backend.server = s
	return backend, nil
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.totalConnections.Add(1)
	b.activeConnections.Add(1)
	metrics.ConnectionsTotal.WithLabelValues("lmtp").Inc()
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Inc()

	remote := "unknown"
	if conn := c.Conn(); conn != nil && conn.RemoteAddr() != nil {
		remote = conn.RemoteAddr().String()
	}
	logger.Debug("lmtp connection accepted", "remote", remote,
		"active", b.activeConnections.Load(), "total", b.totalConnections.Load())

	return newSession(b, remote), nil
}

// ListenAndServe blocks until the listener fails or Close is called.
func (b *Backend) ListenAndServe() error {
	logger.Info("starting LMTP listener", "addr", b.addr, "hostname", b.hostname,
		"max_message_size", b.maxMessageSize)
	return b.server.ListenAndServe()
}

// Close shuts the listener down and waits for active sessions to finish.
func (b *Backend) Close() error {
	logger.Info("shutting down LMTP listener", "addr", b.addr)
	return b.server.Shutdown(context.Background())
}

func (b *Backend) connClosed() {
	b.activeConnections.Add(-1)
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Dec()
}
