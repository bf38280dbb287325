package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"
)

// Template names with built-in defaults. A list specific row overrides the
// global row, which overrides the built-in.
const (
	TemplateGenericHelp              = "generic-help"
	TemplateGenericFailure           = "generic-failure"
	TemplateGenericSuccess           = "generic-success"
	TemplateSubscriptionConfirmation = "subscription-confirmation"
	TemplateUnsubscriptionConfirm    = "unsubscription-confirmation"
	TemplateSubscriptionNoticeOwner  = "subscription-notice-owner"
	TemplateAdminNotice              = "admin-notice"
)

// Template is a reply template. Subject and body are Go text templates.
type Template struct {
	ID          int64
	Name        string
	ListID      *int64
	Subject     *string
	HeadersJSON json.RawMessage
	Body        string
	CreatedAt   time.Time
}

// TemplateContext carries the values a template may reference.
type TemplateContext struct {
	List    *MailingList
	Subject string
	Details string
}

// Render expands the template's subject and body.
func (t *Template) Render(ctx TemplateContext) (subject, body string, err error) {
	render := func(name, text string) (string, error) {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return "", fmt.Errorf("template %s/%s: %w", t.Name, name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, ctx); err != nil {
			return "", fmt.Errorf("template %s/%s: %w", t.Name, name, err)
		}
		return buf.String(), nil
	}

	if t.Subject != nil {
		subject, err = render("subject", *t.Subject)
		if err != nil {
			return "", "", err
		}
	}
	body, err = render("body", t.Body)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject), body, nil
}

func strptr(s string) *string { return &s }

// DefaultTemplate returns the built-in template for a name, or nil if the
// name has no default.
func DefaultTemplate(name string) *Template {
	switch name {
	case TemplateGenericHelp:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .Subject}}{{.Subject}}{{else}}Help for this mailing list{{end}}"),
			Body: "{{if .Details}}{{.Details}}{{else}}Supported commands: send a message with subject " +
				"\"subscribe\", \"unsubscribe\", \"help\" or \"password <new> <new>\" to the list's +request address.{{end}}",
		}
	case TemplateGenericFailure:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .Subject}}{{.Subject}}{{else}}Your e-mail was not processed successfully.{{end}}"),
			Body:    "{{if .Details}}{{.Details}}{{else}}The list owners and administrators have been notified.{{end}}",
		}
	case TemplateGenericSuccess:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .Subject}}{{.Subject}}{{else}}Your e-mail was processed successfully.{{end}}"),
			Body:    "{{if .Details}}{{.Details}}{{end}}",
		}
	case TemplateSubscriptionConfirmation:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .List}}[{{.List.ListID}}] You have successfully subscribed to {{.List.Name}}.{{else}}You have successfully subscribed to this list.{{end}}"),
			Body:    "{{if .Details}}{{.Details}}{{end}}",
		}
	case TemplateUnsubscriptionConfirm:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .List}}[{{.List.ListID}}] You have successfully unsubscribed from {{.List.Name}}.{{else}}You have successfully unsubscribed from this list.{{end}}"),
			Body:    "{{if .Details}}{{.Details}}{{end}}",
		}
	case TemplateSubscriptionNoticeOwner:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("Subscription notice for {{.List.ListID}}"),
			Body:    "{{if .Details}}{{.Details}}{{end}}",
		}
	case TemplateAdminNotice:
		return &Template{
			ID:      -1,
			Name:    name,
			Subject: strptr("{{if .List}}An error occurred with list {{.List.ListID}}{{else}}An error occurred{{end}}"),
			Body:    "{{if .Details}}{{.Details}}{{end}}",
		}
	default:
		return nil
	}
}

const templateColumns = "id, name, list_id, subject, headers_json, body, created_at"

// GetTemplate resolves a template for a list: a list specific row wins, then
// a global row, then the built-in default. Returns ErrTemplateNotFound only
// when no default exists either.
func (db *Database) GetTemplate(ctx context.Context, name string, listID *int64) (*Template, error) {
	var t Template
	err := db.TimedQueryRow(ctx, "get_template", `
		SELECT `+templateColumns+` FROM templates
		WHERE name = $1 AND (list_id = $2 OR list_id IS NULL)
		ORDER BY list_id NULLS LAST
		LIMIT 1`,
		name, listID,
	).Scan(&t.ID, &t.Name, &t.ListID, &t.Subject, &t.HeadersJSON, &t.Body, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if def := DefaultTemplate(name); def != nil {
				return def, nil
			}
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}

// SetTemplate creates or replaces a stored template.
func (db *Database) SetTemplate(ctx context.Context, tx pgx.Tx, tmpl *Template) (*Template, error) {
	var t Template
	err := tx.QueryRow(ctx, `
		INSERT INTO templates (name, list_id, subject, headers_json, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, list_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			headers_json = EXCLUDED.headers_json,
			body = EXCLUDED.body
		RETURNING `+templateColumns,
		tmpl.Name, tmpl.ListID, tmpl.Subject, tmpl.HeadersJSON, tmpl.Body,
	).Scan(&t.ID, &t.Name, &t.ListID, &t.Subject, &t.HeadersJSON, &t.Body, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
