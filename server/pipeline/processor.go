package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/helpers"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
	"github.com/oromail/listd/server"
)

// Processor drives one inbound message through classification, the filter
// chain and job persistence. All queue rows derived from one message are
// written in a single transaction: either every job is durably enqueued or
// none is.
type Processor struct {
	db       *db.Database
	hostname string
}

func NewProcessor(database *db.Database, hostname string) *Processor {
	return &Processor{db: database, hostname: hostname}
}

// ProcessMessage handles one inbound message for one recipient address.
// The recipient must already have been matched to a list by the caller.
func (p *Processor) ProcessMessage(ctx context.Context, list *db.MailingList, from server.Address, rcpt server.Address, raw []byte) error {
	entity, err := helpers.ReadMessage(raw)
	if err != nil {
		logger.Warn("unparseable message, storing in corrupt queue", "list", list.ListID, "from", from.FullAddress(), "error", err)
		return p.storeCorrupt(ctx, list, from, rcpt, raw, err)
	}

	subject := entity.Header.Get("Subject")
	messageID := entity.Header.Get("Message-ID")
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@%s>", uuid.New().String(), p.hostname)
	}

	request := ClassifyRequest(rcpt, subject)
	if request.Kind == RequestPost {
		metrics.MessagesReceived.WithLabelValues("post").Inc()
		return p.processPost(ctx, list, from, raw, subject, messageID)
	}

	metrics.MessagesReceived.WithLabelValues("request").Inc()
	return p.processRequest(ctx, list, from, request, entity, subject, messageID, raw)
}

// processPost builds the list context, runs the filter chain and persists
// the outcome.
func (p *Processor) processPost(ctx context.Context, list *db.MailingList, from server.Address, raw []byte, subject, messageID string) error {
	start := time.Now()

	listCtx, err := p.buildListContext(ctx, list)
	if err != nil {
		return fmt.Errorf("failed to build list context: %w", err)
	}

	post := &PostEntry{
		From:      from,
		Bytes:     raw,
		MessageID: messageID,
		Subject:   subject,
		Action:    PostAction{Kind: ActionHold},
	}

	chainErr := RunChain(post, listCtx)
	metrics.PostProcessingDuration.Observe(time.Since(start).Seconds())
	metrics.PostsProcessed.WithLabelValues(post.Action.Kind.String()).Inc()
	if chainErr != nil && post.Action.Kind != ActionReject && post.Action.Kind != ActionDefer {
		// A filter failed without deciding the post. Treat as a local error
		// for this message only.
		return fmt.Errorf("filter chain failed: %w", chainErr)
	}

	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	switch post.Action.Kind {
	case ActionAccept:
		if err := p.persistAccept(ctx, tx, list, from, post, listCtx); err != nil {
			return err
		}
		logger.Info("post accepted", "list", list.ListID, "from", from.FullAddress(),
			"message_id", post.MessageID, "recipients", len(post.Action.Recipients), "digests", len(post.Action.Digests))

	case ActionDefer:
		if err := p.persistDefer(ctx, tx, list, from, post); err != nil {
			return err
		}
		logger.Info("post deferred", "list", list.ListID, "from", from.FullAddress(), "message_id", post.MessageID)

	case ActionReject:
		if err := p.persistReject(ctx, tx, list, from, post); err != nil {
			return err
		}
		logger.Info("post rejected", "list", list.ListID, "from", from.FullAddress(),
			"message_id", post.MessageID, "reason", post.Action.Reason)

	default:
		return fmt.Errorf("filter chain ended with action %s", post.Action.Kind)
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return nil
}

func (p *Processor) buildListContext(ctx context.Context, list *db.MailingList) (*ListContext, error) {
	policy, err := p.db.GetPostPolicy(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	owners, err := p.db.GetListOwners(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	subs, err := p.db.GetSubscriptions(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	settings, err := p.db.GetListSettings(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	return &ListContext{
		List:           list,
		Owners:         owners,
		Subscriptions:  subs,
		Policy:         policy,
		FilterSettings: settings,
	}, nil
}

// persistAccept archives the post and turns the scheduled jobs into queue
// rows and digest entries.
func (p *Processor) persistAccept(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, post *PostEntry, listCtx *ListContext) error {
	envelopeFrom := from.FullAddress()
	if _, err := p.db.InsertPost(ctx, tx, list.ID, &envelopeFrom, from.FullAddress(), post.MessageID, post.Bytes); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}

	for _, job := range listCtx.ScheduledJobs {
		switch job.Kind {
		case JobSend, JobRelay:
			if len(job.Recipients) == 0 {
				continue
			}
			if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
				Queue:       db.QueueOut,
				ListID:      &list.ID,
				ToAddresses: strings.Join(job.Recipients, ", "),
				FromAddress: list.Address,
				Subject:     post.Subject,
				MessageID:   post.MessageID,
				Message:     post.Bytes,
			}); err != nil {
				return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
			}
			metrics.RecipientsScheduled.Add(float64(len(job.Recipients)))

		case JobStoreDigest:
			if err := p.db.StoreDigest(ctx, tx, list.ID, job.Recipients, post.MessageID, post.Bytes); err != nil {
				return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
			}
			metrics.DigestRecipientsScheduled.Add(float64(len(job.Recipients)))

		case JobError:
			if err := p.enqueueErrorNotice(ctx, tx, list, from, post.MessageID, job.Description, post.Bytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// persistDefer stores the fully prepared post in the deferred queue and
// notifies the sender. The Send/StoreDigest jobs are not enqueued; the
// computed recipient sets ride along on the entry so a moderator release
// dispatches the post without re-running the chain. The entry's envelope
// sender is the list address, matching what an accepted post relays with.
func (p *Processor) persistDefer(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, post *PostEntry) error {
	reason := post.Action.Reason
	if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:           db.QueueDeferred,
		ListID:          &list.ID,
		Comment:         &reason,
		ToAddresses:     strings.Join(post.Action.Recipients, ", "),
		DigestAddresses: strings.Join(post.Action.Digests, ", "),
		FromAddress:     list.Address,
		Author:          from.FullAddress(),
		Subject:         post.Subject,
		MessageID:       post.MessageID,
		Message:         post.Bytes,
	}); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}

	return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
		List:    list,
		Subject: "Your posting is awaiting moderation",
		Details: reason,
	})
}

// persistReject archives the post in the error queue and sends the sender a
// failure notice.
func (p *Processor) persistReject(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, post *PostEntry) error {
	reason := post.Action.Reason
	if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:       db.QueueError,
		ListID:      &list.ID,
		Comment:     &reason,
		ToAddresses: list.Address,
		FromAddress: from.FullAddress(),
		Subject:     post.Subject,
		MessageID:   post.MessageID,
		Message:     post.Bytes,
	}); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}

	return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
		List:    list,
		Details: reason,
	})
}

func (p *Processor) storeCorrupt(ctx context.Context, list *db.MailingList, from server.Address, rcpt server.Address, raw []byte, parseErr error) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	comment := parseErr.Error()
	if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:       db.QueueCorrupt,
		ListID:      &list.ID,
		Comment:     &comment,
		ToAddresses: rcpt.FullAddress(),
		FromAddress: from.FullAddress(),
		Subject:     "",
		MessageID:   fmt.Sprintf("<%s@%s>", uuid.New().String(), p.hostname),
		Message:     raw,
	}); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return errors.Join(consts.ErrMalformedMessage, parseErr)
}

// enqueueTemplatedNotice renders a template and adds the resulting notice
// to the out queue.
func (p *Processor) enqueueTemplatedNotice(ctx context.Context, tx pgx.Tx, list *db.MailingList, recipient, templateName string, tmplCtx db.TemplateContext) error {
	tmpl, err := p.db.GetTemplate(ctx, templateName, &list.ID)
	if err != nil {
		return err
	}
	subject, body, err := tmpl.Render(tmplCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), p.hostname)
	notice, err := p.buildNotice(list.RequestAddress(), recipient, subject, messageID, body)
	if err != nil {
		return err
	}

	if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:       db.QueueOut,
		ListID:      &list.ID,
		ToAddresses: recipient,
		FromAddress: list.RequestAddress(),
		Subject:     subject,
		MessageID:   messageID,
		Message:     notice,
	}); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}
	return nil
}

func (p *Processor) enqueueErrorNotice(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, messageID, description string, raw []byte) error {
	comment := description
	if _, err := p.db.InsertQueueEntry(ctx, tx, &db.QueueEntry{
		Queue:       db.QueueError,
		ListID:      &list.ID,
		Comment:     &comment,
		ToAddresses: list.Address,
		FromAddress: from.FullAddress(),
		Subject:     "",
		MessageID:   messageID,
		Message:     raw,
	}); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}
	return nil
}

// buildNotice assembles a plain text notice message.
func (p *Processor) buildNotice(from, to, subject, messageID, body string) ([]byte, error) {
	var header message.Header
	header.Set("From", from)
	header.Set("To", to)
	header.Set("Subject", subject)
	header.Set("Message-ID", messageID)
	header.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", "text/plain; charset=utf-8")

	entity, err := message.New(header, bytes.NewReader(helpers.FixCRLF([]byte(body))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}
	return helpers.EntityToBytes(entity)
}
