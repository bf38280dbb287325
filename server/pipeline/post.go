// Package pipeline implements the post-processing pipeline: the ordered
// sequence of policy checks and message transformations applied to every
// inbound e-mail addressed to a list. It decides whether a post is accepted,
// deferred or rejected, classifies control commands sent to the +request
// subaddress, and produces the outbound mail jobs the queue workers consume.
package pipeline

import (
	"encoding/json"

	"github.com/oromail/listd/db"
	"github.com/oromail/listd/server"
)

// ActionKind is the terminal classification of a post.
type ActionKind int

const (
	// ActionHold is the initial state before any filter has decided.
	ActionHold ActionKind = iota
	// ActionAccept delivers the post to the computed recipients.
	ActionAccept
	// ActionReject refuses the post with a reason.
	ActionReject
	// ActionDefer holds the post for moderator approval.
	ActionDefer
)

func (k ActionKind) String() string {
	switch k {
	case ActionHold:
		return "hold"
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// PostAction is the disposition of a post after the filter chain ran.
// Recipients and Digests are populated by recipient finalization even for a
// deferred post, so a moderator release needs no second pipeline run.
type PostAction struct {
	Kind       ActionKind
	Recipients []string
	Digests    []string
	Reason     string
}

// JobKind discriminates outbound mail jobs.
type JobKind int

const (
	// JobSend delivers the post to immediate recipients.
	JobSend JobKind = iota
	// JobRelay forwards the post to an external relay verbatim.
	JobRelay
	// JobError records a processing failure for operator review.
	JobError
	// JobStoreDigest accumulates the post for recipients in digest mode.
	JobStoreDigest
	// JobConfirmSubscription sends a subscription confirmation notice.
	JobConfirmSubscription
	// JobConfirmUnsubscription sends an unsubscription confirmation notice.
	JobConfirmUnsubscription
)

func (k JobKind) String() string {
	switch k {
	case JobSend:
		return "send"
	case JobRelay:
		return "relay"
	case JobError:
		return "error"
	case JobStoreDigest:
		return "store-digest"
	case JobConfirmSubscription:
		return "confirm-subscription"
	case JobConfirmUnsubscription:
		return "confirm-unsubscription"
	default:
		return "unknown"
	}
}

// MailJob is one unit of outbound work produced by the filter chain.
type MailJob struct {
	Kind        JobKind
	Recipients  []string // Send, Relay, StoreDigest
	Recipient   string   // ConfirmSubscription, ConfirmUnsubscription
	Description string   // Error
}

// PostEntry is the mutable record threaded through the filter chain. It
// exists only for the duration of one pipeline invocation.
type PostEntry struct {
	From      server.Address
	Bytes     []byte
	To        []server.Address
	MessageID string
	Subject   string
	Action    PostAction
}

// ListContext aggregates the read-only inputs one pipeline run needs and
// collects the scheduled jobs the chain produces. Created fresh per inbound
// message, discarded after job extraction.
//
// The snapshot is a point-in-time view; concurrent administrative mutation
// of policy or membership during a run is a narrow, accepted race.
type ListContext struct {
	List           *db.MailingList
	Owners         []*db.ListOwner
	Subscriptions  []*db.ListSubscription
	Policy         *db.PostPolicy
	FilterSettings map[string]json.RawMessage
	ScheduledJobs  []MailJob
}
