package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("From: x@example.com\r\n\r\nhello\r\n"))
	b := ContentHash([]byte("From: x@example.com\r\n\r\nhello\r\n"))
	c := ContentHash([]byte("From: x@example.com\r\n\r\ngoodbye\r\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
