package config

import (
	"time"

	"github.com/oromail/listd/helpers"
)

// RelayConfig defines the configuration for outbound SMTP delivery
type RelayConfig struct {
	// SMTP relay configuration
	SMTPHost        string `toml:"smtp_host"`         // SMTP server address (e.g., "smtp.example.com:587")
	SMTPTLS         bool   `toml:"smtp_tls"`          // Use TLS for SMTP connection
	SMTPTLSVerify   *bool  `toml:"smtp_tls_verify"`   // Verify TLS certificates (default: true)
	SMTPUseStartTLS bool   `toml:"smtp_use_starttls"` // Use STARTTLS instead of direct TLS
	SMTPUsername    string `toml:"smtp_username"`     // SASL PLAIN username (optional)
	SMTPPassword    string `toml:"smtp_password"`     // SASL PLAIN password (optional)
	HeloDomain      string `toml:"helo_domain"`       // Domain announced at HELO/EHLO

	// Queue configuration (nested under [relay.queue] in TOML)
	Queue RelayQueueConfig `toml:"queue"`
}

// RelayQueueConfig holds configuration for the database backed outbound queue worker
type RelayQueueConfig struct {
	WorkerInterval string   `toml:"worker_interval"` // How often worker processes the out queue (e.g., "1m")
	BatchSize      int      `toml:"batch_size"`      // Number of messages to process per worker cycle
	Concurrency    int      `toml:"concurrency"`     // Number of concurrent messages to process (default: 5)
	MaxAttempts    int      `toml:"max_attempts"`    // Maximum delivery attempts before moving to the error queue
	RetryBackoff   []string `toml:"retry_backoff"`   // Backoff durations between retries (e.g., ["1m", "5m", "15m", "1h", "6h", "24h"])
}

// IsConfigured returns true if the relay is configured
func (r *RelayConfig) IsConfigured() bool {
	return r.SMTPHost != ""
}

// GetTLSVerify returns whether TLS certificates should be verified
func (r *RelayConfig) GetTLSVerify() bool {
	if r.SMTPTLSVerify == nil {
		return true
	}
	return *r.SMTPTLSVerify
}

// GetWorkerInterval parses the worker interval duration
func (q *RelayQueueConfig) GetWorkerInterval() (time.Duration, error) {
	if q.WorkerInterval == "" {
		return 1 * time.Minute, nil // Default 1 minute
	}
	return helpers.ParseDuration(q.WorkerInterval)
}

// GetBatchSize returns the batch size with default
func (q *RelayQueueConfig) GetBatchSize() int {
	if q.BatchSize <= 0 {
		return 20
	}
	return q.BatchSize
}

// GetConcurrency returns the worker concurrency with default
func (q *RelayQueueConfig) GetConcurrency() int {
	if q.Concurrency <= 0 {
		return 5
	}
	return q.Concurrency
}

// GetMaxAttempts returns the max delivery attempts with default
func (q *RelayQueueConfig) GetMaxAttempts() int {
	if q.MaxAttempts <= 0 {
		return 6
	}
	return q.MaxAttempts
}

// GetRetryBackoff parses the retry backoff durations
func (q *RelayQueueConfig) GetRetryBackoff() ([]time.Duration, error) {
	if len(q.RetryBackoff) == 0 {
		// Default exponential backoff
		return []time.Duration{
			1 * time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			1 * time.Hour,
			6 * time.Hour,
			24 * time.Hour,
		}, nil
	}

	backoff := make([]time.Duration, 0, len(q.RetryBackoff))
	for _, b := range q.RetryBackoff {
		d, err := helpers.ParseDuration(b)
		if err != nil {
			return nil, err
		}
		backoff = append(backoff, d)
	}
	return backoff, nil
}
