package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oromail/listd/db"
	"github.com/oromail/listd/helpers"
	"github.com/oromail/listd/server"
)

func testList() *db.MailingList {
	return &db.MailingList{
		ID:      1,
		Name:    "General Discussion",
		ListID:  "general",
		Address: "general@lists.example.com",
	}
}

func testContext(policy *db.PostPolicy) *ListContext {
	return &ListContext{
		List:           testList(),
		Policy:         policy,
		FilterSettings: map[string]json.RawMessage{},
	}
}

func subscription(address string, digest, receiveOwnPosts bool) *db.ListSubscription {
	return &db.ListSubscription{
		ListID:          1,
		Address:         address,
		Digest:          digest,
		ReceiveOwnPosts: receiveOwnPosts,
		Enabled:         true,
		Verified:        true,
	}
}

func rawMessage(from, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: general@lists.example.com\r\nMessage-ID: <m1@example.com>\r\nSubject: %s\r\nContent-Type: text/plain\r\n\r\n%s\r\n", from, subject, body))
}

func testPost(t *testing.T, from, subject, body string) *PostEntry {
	t.Helper()
	addr, err := server.NewAddress(from)
	require.NoError(t, err)
	return &PostEntry{
		From:      addr,
		Bytes:     rawMessage(from, subject, body),
		MessageID: "<m1@example.com>",
		Subject:   subject,
		Action:    PostAction{Kind: ActionHold},
	}
}

func TestPostRightsCheckAnnounceOnly(t *testing.T) {
	policy := &db.PostPolicy{ListID: 1, AnnounceOnly: true}

	t.Run("owner may post", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Owners = []*db.ListOwner{{ListID: 1, Address: "owner@example.com"}}
		post := testPost(t, "owner@example.com", "release", "out now")

		require.NoError(t, PostRightsCheck(post, ctx))
		assert.Equal(t, ActionHold, post.Action.Kind)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Owners = []*db.ListOwner{{ListID: 1, Address: "owner@example.com"}}
		post := testPost(t, "stranger@example.com", "spam", "buy now")

		err := PostRightsCheck(post, ctx)
		require.Error(t, err)
		assert.Equal(t, ActionReject, post.Action.Kind)
		assert.Equal(t, "You are not allowed to post on this list.", post.Action.Reason)
	})

	t.Run("subscriber without ownership is rejected", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Owners = []*db.ListOwner{{ListID: 1, Address: "owner@example.com"}}
		ctx.Subscriptions = []*db.ListSubscription{subscription("member@example.com", false, false)}
		post := testPost(t, "member@example.com", "hi", "hello")

		require.Error(t, PostRightsCheck(post, ctx))
		assert.Equal(t, ActionReject, post.Action.Kind)
	})
}

func TestPostRightsCheckSubscriberOnly(t *testing.T) {
	policy := &db.PostPolicy{ListID: 1, SubscriberOnly: true}

	t.Run("subscriber may post", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Subscriptions = []*db.ListSubscription{subscription("member@example.com", false, false)}
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, PostRightsCheck(post, ctx))
		assert.Equal(t, ActionHold, post.Action.Kind)
	})

	t.Run("non-subscriber is rejected", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Subscriptions = []*db.ListSubscription{subscription("member@example.com", false, false)}
		post := testPost(t, "stranger@example.com", "hi", "hello")

		err := PostRightsCheck(post, ctx)
		require.Error(t, err)
		assert.Equal(t, ActionReject, post.Action.Kind)
		assert.Equal(t, "Only subscribers can post to this list.", post.Action.Reason)
	})

	t.Run("disabled subscription may not post", func(t *testing.T) {
		ctx := testContext(policy)
		candidate := subscription("member@example.com", false, false)
		candidate.Enabled = false
		ctx.Subscriptions = []*db.ListSubscription{candidate}
		post := testPost(t, "member@example.com", "hi", "hello")

		require.Error(t, PostRightsCheck(post, ctx))
		assert.Equal(t, ActionReject, post.Action.Kind)
	})

	t.Run("local part is case sensitive", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Subscriptions = []*db.ListSubscription{subscription("Member@example.com", false, false)}
		post := testPost(t, "member@example.com", "hi", "hello")

		require.Error(t, PostRightsCheck(post, ctx))
		assert.Equal(t, ActionReject, post.Action.Kind)
	})

	t.Run("domain is case insensitive", func(t *testing.T) {
		ctx := testContext(policy)
		ctx.Subscriptions = []*db.ListSubscription{subscription("member@EXAMPLE.com", false, false)}
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, PostRightsCheck(post, ctx))
	})
}

func TestPostRightsCheckApprovalNeeded(t *testing.T) {
	policy := &db.PostPolicy{ListID: 1, ApprovalNeeded: true}

	ctx := testContext(policy)
	ctx.Subscriptions = []*db.ListSubscription{subscription("member@example.com", false, false)}
	post := testPost(t, "member@example.com", "hi", "hello")

	// Approval needed defers but does not stop the chain.
	require.NoError(t, PostRightsCheck(post, ctx))
	assert.Equal(t, ActionDefer, post.Action.Kind)
	assert.Equal(t, "Your posting has been deferred. Approval from the list's moderators is required before it is submitted.", post.Action.Reason)
}

func TestPostRightsCheckOpenList(t *testing.T) {
	t.Run("no policy row", func(t *testing.T) {
		post := testPost(t, "anyone@example.com", "hi", "hello")
		require.NoError(t, PostRightsCheck(post, testContext(nil)))
		assert.Equal(t, ActionHold, post.Action.Kind)
	})

	t.Run("open policy", func(t *testing.T) {
		post := testPost(t, "anyone@example.com", "hi", "hello")
		require.NoError(t, PostRightsCheck(post, testContext(&db.PostPolicy{ListID: 1, Open: true})))
		assert.Equal(t, ActionHold, post.Action.Kind)
	})
}

func TestMimeReject(t *testing.T) {
	settings := func(enabled bool, reject ...string) json.RawMessage {
		raw, _ := json.Marshal(db.MimeRejectSettings{Enabled: enabled, Reject: reject})
		return raw
	}

	t.Run("rejects listed type", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingMimeReject] = settings(true, "text/html")
		post := testPost(t, "member@example.com", "hi", "hello")
		post.Bytes = []byte("From: member@example.com\r\nSubject: hi\r\nContent-Type: text/html\r\n\r\n<p>hello</p>\r\n")

		err := MimeReject(post, ctx)
		require.Error(t, err)
		assert.Equal(t, ActionReject, post.Action.Kind)
		assert.Equal(t, "Your message contains a MIME type that is not accepted on this list.", post.Action.Reason)
	})

	t.Run("rejects nested part", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingMimeReject] = settings(true, "application/x-executable")
		body := strings.Join([]string{
			"From: member@example.com",
			"Subject: hi",
			`Content-Type: multipart/mixed; boundary="b1"`,
			"",
			"--b1",
			"Content-Type: text/plain",
			"",
			"see attachment",
			"--b1",
			"Content-Type: application/x-executable",
			"",
			"MZ...",
			"--b1--",
			"",
		}, "\r\n")
		post := testPost(t, "member@example.com", "hi", "hello")
		post.Bytes = []byte(body)

		require.Error(t, MimeReject(post, ctx))
		assert.Equal(t, ActionReject, post.Action.Kind)
	})

	t.Run("passes unlisted types", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingMimeReject] = settings(true, "text/html")
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, MimeReject(post, ctx))
		assert.Equal(t, ActionHold, post.Action.Kind)
	})

	t.Run("disabled settings pass everything", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingMimeReject] = settings(false, "text/plain")
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, MimeReject(post, ctx))
	})

	t.Run("invalid settings are skipped", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingMimeReject] = json.RawMessage(`{"enabled": "yes"}`)
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, MimeReject(post, ctx))
	})
}

func TestFixCRLFFilter(t *testing.T) {
	ctx := testContext(nil)
	post := testPost(t, "member@example.com", "hi", "hello")
	post.Bytes = []byte("Subject: hi\nFrom: member@example.com\n\nline one\nline two\n")

	require.NoError(t, FixCRLF(post, ctx))
	assert.Equal(t, "Subject: hi\r\nFrom: member@example.com\r\n\r\nline one\r\nline two\r\n", string(post.Bytes))
}

func TestAddListHeaders(t *testing.T) {
	ctx := testContext(nil)
	post := testPost(t, "member@example.com", "hi", "hello")

	require.NoError(t, AddListHeaders(post, ctx))

	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "<general@lists.example.com>", entity.Header.Get("Sender"))
	assert.Equal(t, "<general.lists.example.com>", entity.Header.Get("List-ID"))
	assert.Equal(t, "<mailto:general@lists.example.com>", entity.Header.Get("List-Post"))
	assert.Equal(t, "<mailto:general+request@lists.example.com?subject=unsubscribe>", entity.Header.Get("List-Unsubscribe"))
	assert.Equal(t, "<mailto:general+request@lists.example.com?subject=subscribe>", entity.Header.Get("List-Subscribe"))
	assert.Equal(t, "<mailto:general+request@lists.example.com?subject=help>", entity.Header.Get("List-Help"))
	assert.Empty(t, entity.Header.Get("List-Archive"))
}

func TestAddListHeadersAnnounceOnly(t *testing.T) {
	ctx := testContext(&db.PostPolicy{ListID: 1, AnnounceOnly: true})
	post := testPost(t, "owner@example.com", "hi", "hello")

	require.NoError(t, AddListHeaders(post, ctx))

	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "NO", entity.Header.Get("List-Post"))
}

func TestAddListHeadersArchiveURL(t *testing.T) {
	ctx := testContext(nil)
	archive := "https://lists.example.com/archive/general"
	ctx.List.ArchiveURL = &archive
	post := testPost(t, "member@example.com", "hi", "hello")

	require.NoError(t, AddListHeaders(post, ctx))

	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "<https://lists.example.com/archive/general>", entity.Header.Get("List-Archive"))
}

func TestAddListHeadersIdempotent(t *testing.T) {
	ctx := testContext(nil)
	post := testPost(t, "member@example.com", "hi", "hello")

	require.NoError(t, AddListHeaders(post, ctx))
	require.NoError(t, AddListHeaders(post, ctx))

	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	fields := entity.Header.FieldsByKey("List-ID")
	count := 0
	for fields.Next() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestArchivedAtLink(t *testing.T) {
	archiveSettings := func(template string, preserveCarets bool) json.RawMessage {
		raw, _ := json.Marshal(db.ArchivedAtLinkSettings{Template: template, PreserveCarets: preserveCarets})
		return raw
	}

	t.Run("strips carets by default", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingArchivedAtLink] = archiveSettings("https://lists.example.com/general/{msg_id}", false)
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, ArchivedAtLink(post, ctx))

		entity, err := helpers.ReadMessage(post.Bytes)
		require.NoError(t, err)
		assert.Equal(t, "<https://lists.example.com/general/m1@example.com>", entity.Header.Get("Archived-At"))
	})

	t.Run("preserves carets when asked", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.FilterSettings[db.SettingArchivedAtLink] = archiveSettings("https://lists.example.com/general/{msg_id}", true)
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, ArchivedAtLink(post, ctx))

		entity, err := helpers.ReadMessage(post.Bytes)
		require.NoError(t, err)
		got := entity.Header.Get("Archived-At")
		assert.Contains(t, got, "%3Cm1@example.com%3E")
	})

	t.Run("no settings, no header", func(t *testing.T) {
		ctx := testContext(nil)
		post := testPost(t, "member@example.com", "hi", "hello")

		require.NoError(t, ArchivedAtLink(post, ctx))

		entity, err := helpers.ReadMessage(post.Bytes)
		require.NoError(t, err)
		assert.Empty(t, entity.Header.Get("Archived-At"))
	})
}

func TestAddSubjectTagPrefix(t *testing.T) {
	subjectAfter := func(t *testing.T, ctx *ListContext, post *PostEntry) string {
		t.Helper()
		require.NoError(t, AddSubjectTagPrefix(post, ctx))
		entity, err := helpers.ReadMessage(post.Bytes)
		require.NoError(t, err)
		return entity.Header.Get("Subject")
	}

	t.Run("prepends tag", func(t *testing.T) {
		ctx := testContext(nil)
		post := testPost(t, "member@example.com", "weekly update", "hello")
		assert.Equal(t, "[general] weekly update", subjectAfter(t, ctx, post))
		assert.Equal(t, "[general] weekly update", post.Subject)
	})

	t.Run("does not double tag", func(t *testing.T) {
		ctx := testContext(nil)
		post := testPost(t, "member@example.com", "[general] weekly update", "hello")
		assert.Equal(t, "[general] weekly update", subjectAfter(t, ctx, post))
	})

	t.Run("empty subject", func(t *testing.T) {
		ctx := testContext(nil)
		post := testPost(t, "member@example.com", "", "hello")
		assert.Equal(t, "[general] (no subject)", subjectAfter(t, ctx, post))
	})

	t.Run("disabled by settings", func(t *testing.T) {
		ctx := testContext(nil)
		raw, _ := json.Marshal(db.AddSubjectTagPrefixSettings{Enabled: false})
		ctx.FilterSettings[db.SettingAddSubjectTagPrefix] = raw
		post := testPost(t, "member@example.com", "weekly update", "hello")

		require.NoError(t, AddSubjectTagPrefix(post, ctx))
		entity, err := helpers.ReadMessage(post.Bytes)
		require.NoError(t, err)
		assert.Equal(t, "weekly update", entity.Header.Get("Subject"))
	})
}

func TestFinalizeRecipients(t *testing.T) {
	t.Run("partitions immediate and digest", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.Subscriptions = []*db.ListSubscription{
			subscription("a@example.com", false, false),
			subscription("b@example.com", true, false),
			subscription("c@example.com", false, false),
		}
		post := testPost(t, "stranger@example.com", "hi", "hello")

		require.NoError(t, FinalizeRecipients(post, ctx))
		assert.Equal(t, ActionAccept, post.Action.Kind)
		assert.ElementsMatch(t, []string{"a@example.com", "c@example.com"}, post.Action.Recipients)
		assert.ElementsMatch(t, []string{"b@example.com"}, post.Action.Digests)
	})

	t.Run("disabled subscriptions take no delivery", func(t *testing.T) {
		ctx := testContext(nil)
		candidate := subscription("candidate@example.com", false, false)
		candidate.Enabled = false
		disabledDigest := subscription("paused@example.com", true, false)
		disabledDigest.Enabled = false
		ctx.Subscriptions = []*db.ListSubscription{
			subscription("a@example.com", false, false),
			candidate,
			disabledDigest,
		}
		post := testPost(t, "stranger@example.com", "hi", "hello")

		require.NoError(t, FinalizeRecipients(post, ctx))
		assert.ElementsMatch(t, []string{"a@example.com"}, post.Action.Recipients)
		assert.Empty(t, post.Action.Digests)
	})

	t.Run("sender excluded unless receive_own_posts", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.Subscriptions = []*db.ListSubscription{
			subscription("sender@example.com", false, false),
			subscription("other@example.com", false, false),
		}
		post := testPost(t, "sender@example.com", "hi", "hello")

		require.NoError(t, FinalizeRecipients(post, ctx))
		assert.ElementsMatch(t, []string{"other@example.com"}, post.Action.Recipients)
	})

	t.Run("sender included with receive_own_posts", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.Subscriptions = []*db.ListSubscription{
			subscription("sender@example.com", false, true),
		}
		post := testPost(t, "sender@example.com", "hi", "hello")

		require.NoError(t, FinalizeRecipients(post, ctx))
		assert.ElementsMatch(t, []string{"sender@example.com"}, post.Action.Recipients)
	})

	t.Run("deferred post keeps defer with recipients", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.Subscriptions = []*db.ListSubscription{subscription("a@example.com", false, false)}
		post := testPost(t, "stranger@example.com", "hi", "hello")
		post.Action = PostAction{Kind: ActionDefer, Reason: ReasonDeferred}

		require.NoError(t, FinalizeRecipients(post, ctx))
		assert.Equal(t, ActionDefer, post.Action.Kind)
		assert.ElementsMatch(t, []string{"a@example.com"}, post.Action.Recipients)
	})

	t.Run("schedules send job always, digest job when needed", func(t *testing.T) {
		ctx := testContext(nil)
		ctx.Subscriptions = []*db.ListSubscription{subscription("a@example.com", true, false)}
		post := testPost(t, "stranger@example.com", "hi", "hello")

		require.NoError(t, FinalizeRecipients(post, ctx))
		require.Len(t, ctx.ScheduledJobs, 2)
		assert.Equal(t, JobSend, ctx.ScheduledJobs[0].Kind)
		assert.Equal(t, JobStoreDigest, ctx.ScheduledJobs[1].Kind)
		assert.ElementsMatch(t, []string{"a@example.com"}, ctx.ScheduledJobs[1].Recipients)
	})
}

func TestRunChainAccept(t *testing.T) {
	ctx := testContext(&db.PostPolicy{ListID: 1, SubscriberOnly: true})
	ctx.Subscriptions = []*db.ListSubscription{
		subscription("member@example.com", false, false),
		subscription("reader@example.com", false, false),
		subscription("batch@example.com", true, false),
	}
	post := testPost(t, "member@example.com", "weekly update", "hello everyone")
	post.Bytes = []byte("From: member@example.com\nTo: general@lists.example.com\nMessage-ID: <m1@example.com>\nSubject: weekly update\n\nhello everyone\n")

	require.NoError(t, RunChain(post, ctx))

	assert.Equal(t, ActionAccept, post.Action.Kind)
	assert.ElementsMatch(t, []string{"reader@example.com"}, post.Action.Recipients)
	assert.ElementsMatch(t, []string{"batch@example.com"}, post.Action.Digests)
	assert.Equal(t, "[general] weekly update", post.Subject)

	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "<general.lists.example.com>", entity.Header.Get("List-ID"))
	assert.Contains(t, string(post.Bytes), "\r\n")
}

func TestRunChainReject(t *testing.T) {
	ctx := testContext(&db.PostPolicy{ListID: 1, SubscriberOnly: true})
	ctx.Subscriptions = []*db.ListSubscription{subscription("member@example.com", false, false)}
	post := testPost(t, "stranger@example.com", "hi", "hello")

	err := RunChain(post, ctx)
	require.Error(t, err)
	assert.Equal(t, ActionReject, post.Action.Kind)
	// The chain stopped before recipient finalization.
	assert.Empty(t, ctx.ScheduledJobs)
	assert.Empty(t, post.Action.Recipients)
}

func TestRunChainDefer(t *testing.T) {
	ctx := testContext(&db.PostPolicy{ListID: 1, ApprovalNeeded: true})
	ctx.Subscriptions = []*db.ListSubscription{
		subscription("member@example.com", false, false),
		subscription("reader@example.com", false, false),
	}
	post := testPost(t, "member@example.com", "pending", "needs approval")

	require.NoError(t, RunChain(post, ctx))

	assert.Equal(t, ActionDefer, post.Action.Kind)
	// The deferred copy is fully prepared for a later release.
	assert.ElementsMatch(t, []string{"reader@example.com"}, post.Action.Recipients)
	entity, err := helpers.ReadMessage(post.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "[general] pending", entity.Header.Get("Subject"))
}
