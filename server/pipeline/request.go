package pipeline

import (
	"strings"

	"github.com/oromail/listd/server"
)

// RequestKind classifies an inbound message by the detail part of its
// recipient address.
type RequestKind int

const (
	// RequestPost is a normal list post.
	RequestPost RequestKind = iota
	// RequestSubscribe asks for a new subscription.
	RequestSubscribe
	// RequestUnsubscribe asks for removal of a subscription.
	RequestUnsubscribe
	// RequestHelp asks for the list's help text.
	RequestHelp
	// RequestPassword sets the sender's account password. The new password
	// is taken from the message body.
	RequestPassword
	// RequestOther is an unrecognized command, answered with a failure
	// notice naming the command.
	RequestOther
)

func (k RequestKind) String() string {
	switch k {
	case RequestPost:
		return "post"
	case RequestSubscribe:
		return "subscribe"
	case RequestUnsubscribe:
		return "unsubscribe"
	case RequestHelp:
		return "help"
	case RequestPassword:
		return "password"
	case RequestOther:
		return "other"
	default:
		return "unknown"
	}
}

// ListRequest is the classification of one inbound message.
type ListRequest struct {
	Kind    RequestKind
	Command string // the unrecognized command, for RequestOther
}

// ClassifyRequest routes an inbound message by the plus-detail of its
// recipient address: `list+subscribe@`, `list+unsubscribe@` and `list+help@`
// map directly, `list+request@` is commanded by the subject line. A plain
// list address, or a detail that cannot be classified at all, is a post
// (fail open to normal posting).
func ClassifyRequest(rcpt server.Address, subject string) ListRequest {
	detail := strings.ToLower(rcpt.Detail())
	subject = strings.TrimSpace(subject)

	switch detail {
	case "":
		return ListRequest{Kind: RequestPost}
	case "subscribe":
		return ListRequest{Kind: RequestSubscribe}
	case "unsubscribe":
		return ListRequest{Kind: RequestUnsubscribe}
	case "help":
		return ListRequest{Kind: RequestHelp}
	case "request":
		switch strings.ToLower(subject) {
		case "subscribe":
			return ListRequest{Kind: RequestSubscribe}
		case "unsubscribe":
			return ListRequest{Kind: RequestUnsubscribe}
		case "help":
			return ListRequest{Kind: RequestHelp}
		case "password":
			return ListRequest{Kind: RequestPassword}
		default:
			return ListRequest{Kind: RequestOther, Command: subject}
		}
	default:
		return ListRequest{Kind: RequestOther, Command: detail}
	}
}
