package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwnerAsSubscription(t *testing.T) {
	name := "Jo Owner"
	owner := &ListOwner{ID: 7, ListID: 3, Address: "owner@example.com", Name: &name}

	sub := owner.AsSubscription()
	assert.Equal(t, int64(3), sub.ListID)
	assert.Equal(t, "owner@example.com", sub.Address)
	assert.Equal(t, &name, sub.Name)
	assert.False(t, sub.Digest)
	assert.False(t, sub.HideAddress)
	assert.True(t, sub.ReceiveDuplicates)
	assert.False(t, sub.ReceiveOwnPosts)
	assert.True(t, sub.ReceiveConfirmation)
	assert.True(t, sub.Enabled)
	assert.True(t, sub.Verified)
}
