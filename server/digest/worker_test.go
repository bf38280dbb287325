package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/helpers"
)

func TestNewWorkerDefaults(t *testing.T) {
	w, err := NewWorker(nil, nil, "mail.example.com", &config.DigestConfig{})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, w.interval)
	assert.Equal(t, 10, w.minMessages)
	assert.Equal(t, 24*time.Hour, w.maxAge)
}

func TestNewWorkerInvalidInterval(t *testing.T) {
	_, err := NewWorker(nil, nil, "mail.example.com", &config.DigestConfig{Interval: "sometimes"})
	require.Error(t, err)
}

func TestAssembleDigest(t *testing.T) {
	list := &db.MailingList{
		ID:      1,
		Name:    "General Discussion",
		ListID:  "general",
		Address: "general@lists.example.com",
	}
	batch := &db.DigestBatch{
		ListID:  1,
		Address: "reader@example.com",
		Entries: []*db.DigestEntry{
			{ID: 1, MessageID: "<a@example.com>", Message: []byte("From: x@example.com\r\nSubject: first\r\n\r\nbody one\r\n")},
			{ID: 2, MessageID: "<b@example.com>", Message: []byte("From: y@example.com\r\nSubject: second\r\n\r\nbody two\r\n")},
		},
	}

	raw, err := assembleDigest(list, batch, "[general] Digest of 2 messages", "<d1@mail.example.com>")
	require.NoError(t, err)

	entity, err := helpers.ReadMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "[general] Digest of 2 messages", entity.Header.Get("Subject"))
	assert.Equal(t, "reader@example.com", entity.Header.Get("To"))
	assert.Equal(t, "<general.lists.example.com>", entity.Header.Get("List-ID"))

	mediaType, _, err := entity.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/digest", mediaType)

	mr := entity.MultipartReader()
	require.NotNil(t, mr)
	parts := 0
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		parts++
		partType, _, err := part.Header.ContentType()
		require.NoError(t, err)
		assert.Equal(t, "message/rfc822", partType)
	}
	assert.Equal(t, 2, parts)

	assert.True(t, strings.Contains(string(raw), "body one"))
	assert.True(t, strings.Contains(string(raw), "body two"))
}
