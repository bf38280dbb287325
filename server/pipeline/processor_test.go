package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/server"
	"github.com/oromail/listd/testutils"
)

type moderatedFixture struct {
	database *db.Database
	list     *db.MailingList
	member   string
	digest   string
	owner    string
}

// setupModeratedList creates a list with an approval_needed policy, one
// immediate member, one digest member and one owner.
func setupModeratedList(t *testing.T, database *db.Database) *moderatedFixture {
	t.Helper()
	ctx := context.Background()
	uid := uuid.New().String()[:8]

	tx, err := database.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	list, err := database.CreateList(ctx, tx, "Moderated",
		"mod-"+uid, fmt.Sprintf("mod-%s@lists.example.com", uid), nil, nil, nil)
	require.NoError(t, err)

	_, err = database.SetPostPolicy(ctx, tx, &db.PostPolicy{ListID: list.ID, ApprovalNeeded: true})
	require.NoError(t, err)

	f := &moderatedFixture{
		database: database,
		list:     list,
		member:   fmt.Sprintf("member-%s@example.com", uid),
		digest:   fmt.Sprintf("digest-%s@example.com", uid),
		owner:    fmt.Sprintf("owner-%s@example.com", uid),
	}

	_, err = database.AddListOwner(ctx, tx, list.ID, f.owner, nil)
	require.NoError(t, err)

	for _, sub := range []*db.ListSubscription{
		{ListID: list.ID, Address: f.member, ReceiveDuplicates: true, ReceiveConfirmation: true, Enabled: true, Verified: true},
		{ListID: list.ID, Address: f.digest, Digest: true, ReceiveDuplicates: true, ReceiveConfirmation: true, Enabled: true, Verified: true},
	} {
		_, err = database.CreateSubscription(ctx, tx, sub)
		require.NoError(t, err)
	}

	require.NoError(t, tx.Commit(ctx))
	return f
}

// listEntries filters a queue down to one list's entries.
func listEntries(t *testing.T, database *db.Database, queue db.Queue, listID int64) []*db.QueueEntry {
	t.Helper()
	entries, err := database.GetQueueEntries(context.Background(), queue, 0)
	require.NoError(t, err)
	var out []*db.QueueEntry
	for _, e := range entries {
		if e.ListID != nil && *e.ListID == listID {
			out = append(out, e)
		}
	}
	return out
}

func rawPost(from, to, subject, messageID string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: " + messageID + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hello list.\r\n")
}

func TestProcessMessageApprovalNeededDefers(t *testing.T) {
	database := testutils.SetupTestDatabase(t)
	f := setupModeratedList(t, database)
	ctx := context.Background()

	processor := NewProcessor(database, "lists.example.com")
	sender, err := server.NewAddress("poster@example.com")
	require.NoError(t, err)
	rcpt, err := server.NewAddress(f.list.Address)
	require.NoError(t, err)

	messageID := fmt.Sprintf("<defer-%s@example.com>", uuid.New().String())
	raw := rawPost(sender.FullAddress(), f.list.Address, "greetings", messageID)
	require.NoError(t, processor.ProcessMessage(ctx, f.list, sender, rcpt, raw))

	// The post itself lands in the deferred queue, fully prepared for a
	// later release: recipient sets computed, envelope sender already the
	// list address, original author retained.
	deferred := listEntries(t, database, db.QueueDeferred, f.list.ID)
	require.Len(t, deferred, 1)
	entry := deferred[0]
	assert.Equal(t, messageID, entry.MessageID)
	assert.Equal(t, f.list.Address, entry.FromAddress)
	assert.Equal(t, sender.FullAddress(), entry.Author)
	assert.Equal(t, []string{f.member}, entry.Recipients())
	assert.Equal(t, []string{f.digest}, entry.DigestRecipients())

	// The out queue holds only the moderation notice to the sender, not
	// the post.
	out := listEntries(t, database, db.QueueOut, f.list.ID)
	require.Len(t, out, 1)
	assert.Equal(t, sender.FullAddress(), out[0].ToAddresses)
	assert.Equal(t, f.list.RequestAddress(), out[0].FromAddress)
	assert.Contains(t, out[0].Subject, "awaiting moderation")

	// Not archived and no digest rows until a moderator releases it.
	_, err = database.GetPostByMessageID(ctx, f.list.ID, messageID)
	assert.ErrorIs(t, err, consts.ErrDBNotFound)
	batches, err := database.GetDueDigestBatches(ctx, 1, 0)
	require.NoError(t, err)
	for _, b := range batches {
		assert.NotEqual(t, f.list.ID, b.ListID)
	}
}

func TestReleaseQueueEntryDispatchesDeferredPost(t *testing.T) {
	database := testutils.SetupTestDatabase(t)
	f := setupModeratedList(t, database)
	ctx := context.Background()

	processor := NewProcessor(database, "lists.example.com")
	sender, err := server.NewAddress("poster@example.com")
	require.NoError(t, err)
	rcpt, err := server.NewAddress(f.list.Address)
	require.NoError(t, err)

	messageID := fmt.Sprintf("<release-%s@example.com>", uuid.New().String())
	raw := rawPost(sender.FullAddress(), f.list.Address, "please approve", messageID)
	require.NoError(t, processor.ProcessMessage(ctx, f.list, sender, rcpt, raw))

	deferred := listEntries(t, database, db.QueueDeferred, f.list.ID)
	require.Len(t, deferred, 1)

	tx, err := database.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	require.NoError(t, database.ReleaseQueueEntry(ctx, tx, deferred[0], "released by moderator"))
	require.NoError(t, tx.Commit(ctx))

	// Released: archived, digest rows stored, entry moved to out for the
	// immediate recipients.
	post, err := database.GetPostByMessageID(ctx, f.list.ID, messageID)
	require.NoError(t, err)
	assert.Equal(t, sender.FullAddress(), post.Address)

	monthly, err := database.GetListPostsByMonth(ctx, f.list.ID, post.MonthYear)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, messageID, monthly[0].MessageID)

	batches, err := database.GetDueDigestBatches(ctx, 1, 0)
	require.NoError(t, err)
	found := false
	for _, b := range batches {
		if b.ListID == f.list.ID && b.Address == f.digest {
			found = true
			require.Len(t, b.Entries, 1)
			assert.Equal(t, messageID, b.Entries[0].MessageID)
		}
	}
	assert.True(t, found, "digest member should have a pending digest entry")

	assert.Empty(t, listEntries(t, database, db.QueueDeferred, f.list.ID))
	var released *db.QueueEntry
	for _, e := range listEntries(t, database, db.QueueOut, f.list.ID) {
		if e.MessageID == messageID {
			released = e
		}
	}
	require.NotNil(t, released, "post should be queued for delivery")
	assert.Equal(t, []string{f.member}, released.Recipients())
	assert.Equal(t, f.list.Address, released.FromAddress)
}

func TestSubscribeRequestCreatesCandidateUnderApproval(t *testing.T) {
	database := testutils.SetupTestDatabase(t)
	f := setupModeratedList(t, database)
	ctx := context.Background()

	processor := NewProcessor(database, "lists.example.com")
	sender, err := server.NewAddress("applicant@example.com")
	require.NoError(t, err)
	local, domain, _ := strings.Cut(f.list.Address, "@")
	rcpt, err := server.NewAddress(local + "+subscribe@" + domain)
	require.NoError(t, err)

	messageID := fmt.Sprintf("<subreq-%s@example.com>", uuid.New().String())
	raw := rawPost(sender.FullAddress(), rcpt.FullAddress(), "", messageID)
	require.NoError(t, processor.ProcessMessage(ctx, f.list, sender, rcpt, raw))

	sub, err := database.GetSubscription(ctx, f.list.ID, sender.FullAddress())
	require.NoError(t, err)
	assert.False(t, sub.Enabled, "candidate subscription stays disabled until approved")
	assert.True(t, sub.Verified)

	// No confirmation to the applicant; the owner gets the approval
	// request instead.
	var ownerNotices, applicantNotices int
	for _, e := range listEntries(t, database, db.QueueOut, f.list.ID) {
		switch e.ToAddresses {
		case f.owner:
			ownerNotices++
			assert.Contains(t, e.Subject, "Subscription notice")
		case sender.FullAddress():
			applicantNotices++
		}
	}
	assert.Equal(t, 1, ownerNotices)
	assert.Zero(t, applicantNotices)
}

func TestSubscribeRequestOnOpenListEnablesImmediately(t *testing.T) {
	database := testutils.SetupTestDatabase(t)
	ctx := context.Background()
	uid := uuid.New().String()[:8]

	tx, err := database.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	list, err := database.CreateList(ctx, tx, "Open",
		"open-"+uid, fmt.Sprintf("open-%s@lists.example.com", uid), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	processor := NewProcessor(database, "lists.example.com")
	sender, err := server.NewAddress("applicant@example.com")
	require.NoError(t, err)
	local, domain, _ := strings.Cut(list.Address, "@")
	rcpt, err := server.NewAddress(local + "+subscribe@" + domain)
	require.NoError(t, err)

	raw := rawPost(sender.FullAddress(), rcpt.FullAddress(), "",
		fmt.Sprintf("<subopen-%s@example.com>", uuid.New().String()))
	require.NoError(t, processor.ProcessMessage(ctx, list, sender, rcpt, raw))

	sub, err := database.GetSubscription(ctx, list.ID, sender.FullAddress())
	require.NoError(t, err)
	assert.True(t, sub.Enabled)

	confirmations := 0
	for _, e := range listEntries(t, database, db.QueueOut, list.ID) {
		if e.ToAddresses == sender.FullAddress() {
			confirmations++
			assert.Contains(t, e.Subject, "successfully subscribed")
		}
	}
	assert.Equal(t, 1, confirmations)
}
