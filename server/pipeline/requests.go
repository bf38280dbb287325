package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/helpers"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/pkg/metrics"
	"github.com/oromail/listd/server"
)

// processRequest handles a list command addressed to the request subaddress.
// Each command runs in its own transaction so that the state change and the
// queued reply commit together.
func (p *Processor) processRequest(ctx context.Context, list *db.MailingList, from server.Address, request ListRequest, entity *message.Entity, subject, messageID string, raw []byte) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	switch request.Kind {
	case RequestSubscribe:
		err = p.handleSubscribe(ctx, tx, list, from)
	case RequestUnsubscribe:
		err = p.handleUnsubscribe(ctx, tx, list, from)
	case RequestHelp:
		err = p.handleHelp(ctx, tx, list, from)
	case RequestPassword:
		err = p.handlePassword(ctx, tx, list, from, entity)
	case RequestOther:
		err = p.handleOther(ctx, tx, list, from, request.Command)
	default:
		err = fmt.Errorf("unhandled request kind %s", request.Kind)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RequestsProcessed.WithLabelValues(request.Kind.String(), status).Inc()
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	logger.Info("list request processed", "list", list.ListID, "from", from.FullAddress(),
		"command", request.Kind.String(), "message_id", messageID)
	return nil
}

func (p *Processor) handleSubscribe(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address) error {
	policy, err := p.db.GetPostPolicy(ctx, list.ID)
	if err != nil {
		return err
	}
	approvalNeeded := policy != nil && policy.ApprovalNeeded

	// Under approval_needed the row is a candidate: disabled until an
	// owner accepts it.
	sub := &db.ListSubscription{
		ListID:              list.ID,
		Address:             from.FullAddress(),
		ReceiveDuplicates:   true,
		ReceiveConfirmation: true,
		Enabled:             !approvalNeeded,
		Verified:            true,
	}
	created, err := p.db.CreateSubscription(ctx, tx, sub)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateSubscription) {
			return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
				List:    list,
				Details: "You are already subscribed to this list.",
			})
		}
		return err
	}

	if _, err := p.db.UpsertAccount(ctx, tx, from.FullAddress(), nil); err != nil {
		return err
	}

	ownerDetails := from.FullAddress()
	if approvalNeeded {
		ownerDetails = fmt.Sprintf("%s requests subscription approval.", from.FullAddress())
	} else if created.ReceiveConfirmation {
		if err := p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateSubscriptionConfirmation, db.TemplateContext{
			List: list,
		}); err != nil {
			return err
		}
	}

	owners, err := p.db.GetListOwners(ctx, list.ID)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if err := p.enqueueTemplatedNotice(ctx, tx, list, owner.Address, db.TemplateSubscriptionNoticeOwner, db.TemplateContext{
			List:    list,
			Details: ownerDetails,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleUnsubscribe(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address) error {
	sub, err := p.db.GetSubscription(ctx, list.ID, from.FullAddress())
	if err != nil {
		if errors.Is(err, consts.ErrDBNotFound) {
			return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
				List:    list,
				Details: "You are not subscribed to this list.",
			})
		}
		return err
	}

	if err := p.db.DeleteSubscription(ctx, tx, list.ID, from.FullAddress()); err != nil {
		return err
	}

	if sub.ReceiveConfirmation {
		return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateUnsubscriptionConfirm, db.TemplateContext{
			List: list,
		})
	}
	return nil
}

func (p *Processor) handleHelp(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address) error {
	return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericHelp, db.TemplateContext{
		List: list,
	})
}

// handlePassword sets the sender's account password. The new password is
// the first non-empty line of the message's plain text body.
func (p *Processor) handlePassword(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, entity *message.Entity) error {
	password := firstBodyLine(entity)
	if password == "" {
		return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
			List:    list,
			Details: "No password was found in the message body.",
		})
	}

	if _, err := p.db.UpsertAccount(ctx, tx, from.FullAddress(), nil); err != nil {
		return err
	}
	if err := p.db.SetAccountPassword(ctx, tx, from.FullAddress(), password); err != nil {
		return err
	}

	return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericSuccess, db.TemplateContext{
		List:    list,
		Details: "Your account password has been updated.",
	})
}

func (p *Processor) handleOther(ctx context.Context, tx pgx.Tx, list *db.MailingList, from server.Address, command string) error {
	logger.Debug("unrecognized list command", "list", list.ListID, "from", from.FullAddress(), "command", command)
	return p.enqueueTemplatedNotice(ctx, tx, list, from.FullAddress(), db.TemplateGenericFailure, db.TemplateContext{
		List:    list,
		Details: fmt.Sprintf("Unknown command %q.", command),
	})
}

func firstBodyLine(entity *message.Entity) string {
	text, err := helpers.PlaintextFromMessage(entity)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
