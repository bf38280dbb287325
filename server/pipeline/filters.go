package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/emersion/go-message"

	"github.com/oromail/listd/db"
	"github.com/oromail/listd/helpers"
	"github.com/oromail/listd/logger"
)

// Rejection reasons surfaced to senders.
const (
	ReasonNotAllowed     = "You are not allowed to post on this list."
	ReasonSubscriberOnly = "Only subscribers can post to this list."
	ReasonDeferred       = "Your posting has been deferred. Approval from the list's moderators is required before it is submitted."
	ReasonMimeRejected   = "Your message contains a MIME type that is not accepted on this list."
)

// Filter is one stage of the chain. A filter mutates the post and/or the
// context and returns nil to pass the post on, or an error to stop the
// chain. A filter that stops the chain must set post.Action to the matching
// Reject or Defer value first.
type Filter func(post *PostEntry, ctx *ListContext) error

// Filters returns the filter chain in its fixed execution order. Policy and
// integrity filters run before recipient finalization.
func Filters() []Filter {
	return []Filter{
		PostRightsCheck,
		MimeReject,
		FixCRLF,
		AddListHeaders,
		ArchivedAtLink,
		AddSubjectTagPrefix,
		FinalizeRecipients,
	}
}

// RunChain feeds the post through every filter in order, stopping at the
// first error.
func RunChain(post *PostEntry, ctx *ListContext) error {
	for _, f := range Filters() {
		if err := f(post, ctx); err != nil {
			return err
		}
	}
	return nil
}

// PostRightsCheck enforces the list's post policy. A list without a policy
// row is open and this filter passes everything through.
func PostRightsCheck(post *PostEntry, ctx *ListContext) error {
	policy := ctx.Policy
	if policy == nil {
		return nil
	}
	sender := post.From.FullAddress()

	switch {
	case policy.AnnounceOnly:
		for _, owner := range ctx.Owners {
			if helpers.AddressesEqual(owner.AsSubscription().Address, sender) {
				return nil
			}
		}
		logger.Debug("sender is not a list owner", "list", ctx.List.ListID, "from", sender)
		post.Action = PostAction{Kind: ActionReject, Reason: ReasonNotAllowed}
		return fmt.Errorf("%s", ReasonNotAllowed)

	case policy.SubscriberOnly:
		for _, sub := range ctx.Subscriptions {
			if sub.Enabled && helpers.AddressesEqual(sub.Address, sender) {
				return nil
			}
		}
		logger.Debug("sender is not subscribed", "list", ctx.List.ListID, "from", sender)
		post.Action = PostAction{Kind: ActionReject, Reason: ReasonSubscriberOnly}
		return fmt.Errorf("%s", ReasonSubscriberOnly)

	case policy.ApprovalNeeded:
		// The post still runs through the remaining filters so its queued
		// form is fully prepared; the final disposition stays Defer.
		post.Action = PostAction{Kind: ActionDefer, Reason: ReasonDeferred}
		return nil
	}

	return nil
}

// MimeReject refuses posts that carry a rejected MIME type. Disabled unless
// the list has MimeRejectSettings with enabled=true.
func MimeReject(post *PostEntry, ctx *ListContext) error {
	raw, ok := ctx.FilterSettings[db.SettingMimeReject]
	if !ok {
		return nil
	}
	var settings db.MimeRejectSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		logger.Warn("invalid MimeRejectSettings, skipping filter", "list", ctx.List.ListID, "error", err)
		return nil
	}
	if !settings.Enabled || len(settings.Reject) == 0 {
		return nil
	}

	entity, err := helpers.ReadMessage(post.Bytes)
	if err != nil {
		// An unparseable message is handled downstream, not here.
		return nil
	}

	types := collectContentTypes(entity)
	for _, t := range types {
		for _, rejected := range settings.Reject {
			if strings.EqualFold(t, rejected) {
				logger.Debug("rejecting MIME type", "list", ctx.List.ListID, "type", t)
				post.Action = PostAction{Kind: ActionReject, Reason: ReasonMimeRejected}
				return fmt.Errorf("%s", ReasonMimeRejected)
			}
		}
	}
	return nil
}

// FixCRLF rewrites every line terminator to CRLF, required by SMTP. Purely
// a byte rewrite, never rejects.
func FixCRLF(post *PostEntry, ctx *ListContext) error {
	post.Bytes = helpers.FixCRLF(post.Bytes)
	return nil
}

// AddListHeaders injects the List-* headers computed from the list's
// address, id and archive URL. Existing values are replaced, so running the
// filter twice never stacks headers.
func AddListHeaders(post *PostEntry, ctx *ListContext) error {
	entity, err := helpers.ReadMessage(post.Bytes)
	if err != nil {
		return fmt.Errorf("failed to reparse message: %w", err)
	}

	list := ctx.List
	entity.Header.Set("Sender", fmt.Sprintf("<%s>", list.Address))
	entity.Header.Set("List-ID", list.IDHeader())
	entity.Header.Set("List-Help", list.HelpHeader())
	entity.Header.Set("List-Post", list.PostHeader(ctx.Policy))
	entity.Header.Set("List-Unsubscribe", list.UnsubscribeHeader())
	entity.Header.Set("List-Subscribe", list.SubscribeHeader())
	if archive := list.ArchiveHeader(); archive != "" {
		entity.Header.Set("List-Archive", archive)
	}

	post.Bytes, err = helpers.EntityToBytes(entity)
	return err
}

// ArchivedAtLink adds an Archived-At header if the list has
// ArchivedAtLinkSettings. The template's {msg_id} placeholder is replaced
// with the percent encoded message id, with or without its surrounding
// carets per preserve_carets.
func ArchivedAtLink(post *PostEntry, ctx *ListContext) error {
	raw, ok := ctx.FilterSettings[db.SettingArchivedAtLink]
	if !ok {
		return nil
	}
	var settings db.ArchivedAtLinkSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		logger.Warn("invalid ArchivedAtLinkSettings, skipping filter", "list", ctx.List.ListID, "error", err)
		return nil
	}
	if settings.Template == "" {
		return nil
	}

	msgID := post.MessageID
	if !settings.PreserveCarets {
		msgID = strings.TrimSuffix(strings.TrimPrefix(msgID, "<"), ">")
	}
	link := strings.ReplaceAll(settings.Template, "{msg_id}", url.PathEscape(msgID))

	entity, err := helpers.ReadMessage(post.Bytes)
	if err != nil {
		return fmt.Errorf("failed to reparse message: %w", err)
	}
	entity.Header.Set("Archived-At", fmt.Sprintf("<%s>", link))

	post.Bytes, err = helpers.EntityToBytes(entity)
	return err
}

// AddSubjectTagPrefix prepends the `[list-id]` tag to the Subject header.
// Enabled by default; AddSubjectTagPrefixSettings with enabled=false turns
// it off. A subject already carrying the tag is left alone.
func AddSubjectTagPrefix(post *PostEntry, ctx *ListContext) error {
	if raw, ok := ctx.FilterSettings[db.SettingAddSubjectTagPrefix]; ok {
		var settings db.AddSubjectTagPrefixSettings
		if err := json.Unmarshal(raw, &settings); err == nil && !settings.Enabled {
			logger.Debug("AddSubjectTagPrefix disabled for list", "list", ctx.List.ListID)
			return nil
		}
	}

	entity, err := helpers.ReadMessage(post.Bytes)
	if err != nil {
		return fmt.Errorf("failed to reparse message: %w", err)
	}

	tag := fmt.Sprintf("[%s]", ctx.List.ListID)
	subject := entity.Header.Get("Subject")
	switch {
	case subject == "":
		entity.Header.Set("Subject", tag+" (no subject)")
	case strings.HasPrefix(subject, tag):
		// Already tagged, e.g. a reply quoting the list subject.
	default:
		entity.Header.Set("Subject", tag+" "+subject)
	}
	post.Subject = entity.Header.Get("Subject")

	post.Bytes, err = helpers.EntityToBytes(entity)
	return err
}

// FinalizeRecipients is the terminal filter. It computes the immediate and
// digest recipient sets from the subscription snapshot, schedules the Send
// job (and a StoreDigest job when some recipients are in digest mode), and
// upgrades a held post to Accept. A post deferred by the rights check keeps
// its Defer disposition; the queue layer decides what to do with the
// computed recipients.
func FinalizeRecipients(post *PostEntry, ctx *ListContext) error {
	var recipients, digests []string
	sender := post.From.FullAddress()

	for _, sub := range ctx.Subscriptions {
		if !sub.Enabled {
			// Disabled rows are candidates awaiting approval or members
			// an admin switched off. Neither takes delivery.
			continue
		}
		isSender := helpers.AddressesEqual(sub.Address, sender)
		if !isSender || sub.ReceiveOwnPosts {
			if sub.Digest {
				digests = append(digests, sub.Address)
			} else {
				recipients = append(recipients, sub.Address)
			}
		}
	}

	ctx.ScheduledJobs = append(ctx.ScheduledJobs, MailJob{Kind: JobSend, Recipients: recipients})
	if len(digests) > 0 {
		ctx.ScheduledJobs = append(ctx.ScheduledJobs, MailJob{Kind: JobStoreDigest, Recipients: digests})
	}

	if post.Action.Kind == ActionHold {
		post.Action = PostAction{Kind: ActionAccept, Recipients: recipients, Digests: digests}
	} else {
		post.Action.Recipients = recipients
		post.Action.Digests = digests
	}
	return nil
}

// collectContentTypes walks the MIME structure and returns every part's
// media type, including the top level one.
func collectContentTypes(entity *message.Entity) []string {
	mediaType, _, _ := entity.Header.ContentType()
	types := []string{mediaType}

	mr := entity.MultipartReader()
	if mr == nil {
		return types
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		types = append(types, collectContentTypes(part)...)
	}
	return types
}
