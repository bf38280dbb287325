package relayqueue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oromail/listd/config"
)

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "nil", err: nil, permanent: false},
		{name: "plain error is temporary", err: errors.New("connection refused"), permanent: false},
		{name: "wrapped permanent relay error", err: fmt.Errorf("delivery: %w", &RelayError{Err: errors.New("bad config"), Permanent: true}), permanent: true},
		{name: "wrapped temporary relay error", err: &RelayError{Err: errors.New("timeout"), Permanent: false}, permanent: false},
		{name: "smtp 550", err: &smtp.SMTPError{Code: 550, Message: "no such user"}, permanent: true},
		{name: "smtp 451", err: &smtp.SMTPError{Code: 451, Message: "try again"}, permanent: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.permanent, IsPermanentError(tc.err))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	w, err := NewWorker(nil, nil, &config.RelayQueueConfig{
		RetryBackoff: []string{"1m", "5m", "1h"},
	})
	require.NoError(t, err)

	assert.Equal(t, time.Minute, w.retryDelay(1))
	assert.Equal(t, 5*time.Minute, w.retryDelay(2))
	assert.Equal(t, time.Hour, w.retryDelay(3))
	// Attempts beyond the schedule keep the last delay.
	assert.Equal(t, time.Hour, w.retryDelay(7))
	assert.Equal(t, time.Minute, w.retryDelay(0))
}

func TestNewWorkerDefaults(t *testing.T) {
	w, err := NewWorker(nil, nil, &config.RelayQueueConfig{})
	require.NoError(t, err)

	assert.Equal(t, time.Minute, w.interval)
	assert.Equal(t, 20, w.batchSize)
	assert.Equal(t, 5, w.concurrency)
	assert.Equal(t, 6, w.maxAttempts)
	assert.Len(t, w.backoff, 6)
}

func TestNewWorkerInvalidInterval(t *testing.T) {
	_, err := NewWorker(nil, nil, &config.RelayQueueConfig{WorkerInterval: "often"})
	require.Error(t, err)
}
