// Package relayqueue delivers the out queue to the configured SMTP relay.
// Entries are acquired with row locks so several listd instances can share
// one database, and failed deliveries are retried on a backoff schedule
// until they exhaust their attempts and land in the error queue.
package relayqueue

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
)

// RelayError wraps a delivery error with its permanence classification.
// Permanent errors skip the retry schedule.
type RelayError struct {
	Err       error
	Permanent bool
}

func (e *RelayError) Error() string {
	return e.Err.Error()
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsPermanentError reports whether a delivery error is permanent. SMTP 5xx
// replies are permanent; 4xx replies and network errors are temporary.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Permanent
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	return false
}

// RelayHandler delivers one message to a set of recipients.
type RelayHandler interface {
	Deliver(from string, recipients []string, message []byte) error
}

// SMTPRelayHandler implements delivery over SMTP with optional TLS,
// STARTTLS and SASL PLAIN authentication.
type SMTPRelayHandler struct {
	Host        string
	UseTLS      bool
	TLSVerify   bool
	UseStartTLS bool
	Username    string
	Password    string
	HeloDomain  string
}

// NewSMTPRelayHandler builds a handler from the relay configuration.
func NewSMTPRelayHandler(cfg *config.RelayConfig) *SMTPRelayHandler {
	return &SMTPRelayHandler{
		Host:        cfg.SMTPHost,
		UseTLS:      cfg.SMTPTLS,
		TLSVerify:   cfg.GetTLSVerify(),
		UseStartTLS: cfg.SMTPUseStartTLS,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		HeloDomain:  cfg.HeloDomain,
	}
}

// Deliver sends the message over one SMTP transaction with all recipients.
func (r *SMTPRelayHandler) Deliver(from string, recipients []string, message []byte) error {
	if r.Host == "" {
		return &RelayError{Err: fmt.Errorf("SMTP relay host not configured"), Permanent: true}
	}
	if len(recipients) == 0 {
		return &RelayError{Err: fmt.Errorf("no recipients"), Permanent: true}
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Renegotiation:      tls.RenegotiateNever,
		InsecureSkipVerify: !r.TLSVerify,
	}

	var c *smtp.Client
	var err error
	switch {
	case !r.UseTLS:
		c, err = smtp.Dial(r.Host)
	case r.UseStartTLS:
		c, err = smtp.DialStartTLS(r.Host, tlsConfig)
	default:
		c, err = smtp.DialTLS(r.Host, tlsConfig)
	}
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to connect to SMTP relay: %w", err), Permanent: false}
	}
	defer c.Close()

	if r.HeloDomain != "" {
		if err := c.Hello(r.HeloDomain); err != nil {
			return &RelayError{Err: fmt.Errorf("HELO failed: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if r.Username != "" {
		auth := sasl.NewPlainClient("", r.Username, r.Password)
		if err := c.Auth(auth); err != nil {
			return &RelayError{Err: fmt.Errorf("SMTP authentication failed: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return &RelayError{Err: fmt.Errorf("failed to set recipient %s: %w", rcpt, err), Permanent: IsPermanentError(err)}
		}
	}

	wc, err := c.Data()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(message); err != nil {
		_ = wc.Close()
		return &RelayError{Err: fmt.Errorf("failed to write message: %w", err), Permanent: false}
	}
	if err := wc.Close(); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Quit(); err != nil {
		// The message is already accepted, a failed QUIT is not a delivery error.
		logger.Warn("failed to send QUIT to relay", "host", r.Host, "error", err)
	}

	metrics.RelayDeliveries.WithLabelValues("success").Inc()
	return nil
}
