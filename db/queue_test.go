package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueue(t *testing.T) {
	for _, name := range []string{"maildrop", "hold", "deferred", "corrupt", "out", "error"} {
		q, err := ParseQueue(name)
		require.NoError(t, err)
		assert.Equal(t, Queue(name), q)
	}

	_, err := ParseQueue("outbox")
	require.Error(t, err)
}

func TestQueueEntryRecipients(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "single", in: "a@example.com", want: []string{"a@example.com"}},
		{name: "comma separated", in: "a@example.com, b@example.com", want: []string{"a@example.com", "b@example.com"}},
		{name: "no space", in: "a@example.com,b@example.com", want: []string{"a@example.com", "b@example.com"}},
		{name: "trailing comma", in: "a@example.com,", want: []string{"a@example.com"}},
		{name: "empty", in: "", want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entry := &QueueEntry{ToAddresses: tc.in}
			assert.Equal(t, tc.want, entry.Recipients())
		})
	}
}

func TestQueueEntryDigestRecipients(t *testing.T) {
	entry := &QueueEntry{
		ToAddresses:     "a@example.com",
		DigestAddresses: "d1@example.com, d2@example.com",
	}
	assert.Equal(t, []string{"a@example.com"}, entry.Recipients())
	assert.Equal(t, []string{"d1@example.com", "d2@example.com"}, entry.DigestRecipients())

	entry.DigestAddresses = ""
	assert.Empty(t, entry.DigestRecipients())
}
