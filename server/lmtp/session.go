package lmtp

import (
	"bytes"
	"errors"
	"io"

	"github.com/emersion/go-smtp"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
	"github.com/oromail/listd/logger"
	"github.com/oromail/listd/server"
)

// rcptTarget is one accepted recipient with the list it resolved to. The
// original address is kept so plus-detail commands survive into the
// pipeline.
type rcptTarget struct {
	address server.Address
	list    *db.MailingList
}

// session is one LMTP transaction. LMTP reports delivery status per
// recipient, so Data processes each accepted recipient independently.
type session struct {
	backend *Backend
	remote  string
	sender  *server.Address
	rcpts   []rcptTarget
}

func newSession(b *Backend, remote string) *session {
	return &session{backend: b, remote: remote}
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	addr, err := server.NewAddress(from)
	if err != nil {
		logger.Debug("rejecting invalid sender", "remote", s.remote, "from", from, "error", err)
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender",
		}
	}
	s.sender = &addr
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	addr, err := server.NewAddress(to)
	if err != nil {
		logger.Debug("rejecting invalid recipient", "remote", s.remote, "to", to, "error", err)
		return &smtp.SMTPError{
			Code:         513,
			EnhancedCode: smtp.EnhancedCode{5, 0, 1},
			Message:      "Invalid recipient",
		}
	}

	// The detail part selects the command, the base address selects the list.
	lookupCtx, cancel := s.backend.database.WithQueryTimeout(s.backend.appCtx)
	defer cancel()
	list, err := s.backend.database.GetListByAddress(lookupCtx, addr.BaseAddress())
	if err != nil {
		if errors.Is(err, consts.ErrDBNotFound) {
			logger.Debug("no list for recipient", "remote", s.remote, "to", addr.FullAddress())
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "No such list here",
			}
		}
		logger.Error("list lookup failed", "remote", s.remote, "to", addr.FullAddress(), "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary lookup failure",
		}
	}

	s.rcpts = append(s.rcpts, rcptTarget{address: addr, list: list})
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.sender == nil || len(s.rcpts) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "Bad sequence of commands (missing MAIL FROM or RCPT TO)",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		logger.Error("failed to read message data", "remote", s.remote, "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to read message",
		}
	}
	raw := buf.Bytes()

	var firstErr error
	for _, rcpt := range s.rcpts {
		err := s.backend.processor.ProcessMessage(s.backend.appCtx, rcpt.list, *s.sender, rcpt.address, raw)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			logger.Error("message processing failed", "remote", s.remote,
				"list", rcpt.list.ListID, "rcpt", rcpt.address.FullAddress(), "error", err)
		}
	}
	if firstErr != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Message processing failed",
		}
	}
	return nil
}

func (s *session) Reset() {
	s.sender = nil
	s.rcpts = nil
}

func (s *session) Logout() error {
	s.backend.connClosed()
	return nil
}
