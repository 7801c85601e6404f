// Package app sends approved outbound mail: letter replies and deed emails.
// Delivery is at-least-once; every attempt leaves exactly one outbound_messages
// row, and the sent-state guard keeps a redelivered job from mailing twice.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
	"github.com/polarpost/mailroom/internal/outbound/smtp"
	"github.com/polarpost/mailroom/internal/pipeline/llm"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

// SenderConfig carries the outbound knobs.
type SenderConfig struct {
	SafetyCheckEnabled bool
}

// Sender handles send_reply, send_deed_suggestion and send_deed_congrats jobs.
type Sender struct {
	letters    repository.LetterRepository
	replies    repository.ReplyRepository
	recipients repository.RecipientRepository
	deeds      repository.GoodDeedRepository
	outbound   repository.OutboundMessageRepository
	mailer     smtp.Mailer
	model      llm.Client
	logger     *slog.Logger
	cfg        SenderConfig
}

func NewSender(
	letters repository.LetterRepository,
	replies repository.ReplyRepository,
	recipients repository.RecipientRepository,
	deeds repository.GoodDeedRepository,
	outbound repository.OutboundMessageRepository,
	mailer smtp.Mailer,
	model llm.Client,
	logger *slog.Logger,
	cfg SenderConfig,
) *Sender {
	return &Sender{
		letters:    letters,
		replies:    replies,
		recipients: recipients,
		deeds:      deeds,
		outbound:   outbound,
		mailer:     mailer,
		model:      model,
		logger:     logger.With("service", "outbound_sender"),
		cfg:        cfg,
	}
}

// HandleSendReply delivers an approved reply back to the letter's sender.
func (s *Sender) HandleSendReply(ctx context.Context, job *queuedomain.Job) error {
	var payload queuedomain.LetterPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queuedomain.Permanent(fmt.Errorf("decoding payload: %w", err))
	}
	logger := s.logger.With("letter_id", payload.LetterID, "attempt", job.Attempts)

	letter, err := s.letters.GetByID(ctx, payload.LetterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queuedomain.Permanent(fmt.Errorf("letter %s not found", payload.LetterID))
		}
		return fmt.Errorf("loading letter: %w", err)
	}
	reply, err := s.replies.GetByLetterID(ctx, letter.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queuedomain.Permanent(fmt.Errorf("no reply for letter %s", letter.ID))
		}
		return fmt.Errorf("loading reply: %w", err)
	}

	switch reply.Status {
	case domain.ReplyStatusSent:
		// A previous attempt delivered but died before the job completed.
		logger.InfoContext(ctx, "Reply already sent, completing job")
		return nil
	case domain.ReplyStatusQueued, domain.ReplyStatusFailed:
	default:
		return queuedomain.Permanent(fmt.Errorf("reply %s is %s, not sendable", reply.ID, reply.Status))
	}

	subject := "A letter from Santa"
	if letter.Subject != "" {
		subject = "Re: " + letter.Subject
	}
	email := &smtp.Email{
		To:        letter.FromAddress,
		Subject:   subject,
		BodyText:  reply.BodyText,
		BodyHTML:  reply.BodyHTML,
		InReplyTo: letter.MessageID,
	}

	sendErr := s.mailer.Send(ctx, email)
	s.record(ctx, &domain.OutboundMessage{
		ID:          uuid.New(),
		RecipientID: letter.RecipientID,
		MessageType: domain.OutboundTypeReply,
		LetterID:    &letter.ID,
		Subject:     subject,
		BodyText:    reply.BodyText,
	}, sendErr, logger)

	if sendErr != nil {
		msg := sendErr.Error()
		if uerr := s.replies.UpdateStatus(ctx, reply.ID, domain.ReplyStatusFailed, &msg); uerr != nil {
			logger.ErrorContext(ctx, "Error marking reply failed", "error", uerr)
		}
		return s.classify(sendErr)
	}

	if err := s.replies.MarkSent(ctx, reply.ID, time.Now().UTC()); err != nil {
		// Delivery happened; surfacing an error here would resend.
		logger.ErrorContext(ctx, "Error marking reply sent after delivery", "error", err)
	}
	logger.InfoContext(ctx, "Reply delivered", "reply_id", reply.ID)
	return nil
}

// HandleSendDeedSuggestion delivers a standalone deed-suggestion email.
func (s *Sender) HandleSendDeedSuggestion(ctx context.Context, job *queuedomain.Job) error {
	return s.handleDeedMail(ctx, job, domain.OutboundTypeDeedSuggestion)
}

// HandleSendDeedCongrats delivers a congratulations email for a completed deed.
func (s *Sender) HandleSendDeedCongrats(ctx context.Context, job *queuedomain.Job) error {
	return s.handleDeedMail(ctx, job, domain.OutboundTypeDeedCongrats)
}

func (s *Sender) handleDeedMail(ctx context.Context, job *queuedomain.Job, msgType domain.OutboundMessageType) error {
	var payload queuedomain.DeedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queuedomain.Permanent(fmt.Errorf("decoding payload: %w", err))
	}
	logger := s.logger.With("deed_id", payload.DeedID, "message_type", msgType, "attempt", job.Attempts)

	deed, err := s.deeds.GetByID(ctx, payload.DeedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queuedomain.Permanent(fmt.Errorf("deed %s not found", payload.DeedID))
		}
		return fmt.Errorf("loading deed: %w", err)
	}
	recipient, err := s.recipients.GetByID(ctx, deed.RecipientID)
	if err != nil {
		return fmt.Errorf("loading recipient: %w", err)
	}
	// Deed mail has no letter of its own; it goes to the address the
	// recipient last wrote from.
	address, err := s.letters.LatestFromAddress(ctx, deed.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queuedomain.Permanent(fmt.Errorf("no known address for recipient %s", deed.RecipientID))
		}
		return fmt.Errorf("resolving delivery address: %w", err)
	}

	var composed *llm.ComposedEmail
	if msgType == domain.OutboundTypeDeedCongrats {
		composed, err = s.model.ComposeDeedCongrats(ctx, recipient.DisplayName, deed.Description, deed.ParentNote, recipient.Language)
	} else {
		composed, err = s.model.ComposeDeedEmail(ctx, recipient.DisplayName, deed.Description, recipient.Language)
	}
	if err != nil {
		return fmt.Errorf("composing deed email: %w", err)
	}

	if s.cfg.SafetyCheckEnabled {
		result, err := s.model.CheckSafety(ctx, composed.BodyText)
		if err != nil {
			return fmt.Errorf("safety check: %w", err)
		}
		if !*result.IsSafe {
			// Blocked deed mail is dropped, never retried with the same body.
			logger.WarnContext(ctx, "Deed email blocked by safety gate", "issues", result.Issues, "severity", result.Severity)
			outboundBlockedTotal.WithLabelValues(string(msgType)).Inc()
			return nil
		}
	}

	sendErr := s.mailer.Send(ctx, &smtp.Email{
		To:       address,
		Subject:  composed.Subject,
		BodyText: composed.BodyText,
	})
	s.record(ctx, &domain.OutboundMessage{
		ID:          uuid.New(),
		RecipientID: deed.RecipientID,
		MessageType: msgType,
		DeedID:      &deed.ID,
		Subject:     composed.Subject,
		BodyText:    composed.BodyText,
	}, sendErr, logger)

	if sendErr != nil {
		return s.classify(sendErr)
	}
	logger.InfoContext(ctx, "Deed email delivered")
	return nil
}

// record writes the per-attempt audit row. Recording failures are logged, not
// returned: the delivery outcome decides the job's fate.
func (s *Sender) record(ctx context.Context, msg *domain.OutboundMessage, sendErr error, logger *slog.Logger) {
	now := time.Now().UTC()
	msg.CreatedAt = now
	if sendErr != nil {
		msg.Status = domain.OutboundStatusFailed
		errMsg := sendErr.Error()
		msg.ErrorMsg = &errMsg
		outboundAttemptsTotal.WithLabelValues(string(msg.MessageType), "failed").Inc()
	} else {
		msg.Status = domain.OutboundStatusSent
		msg.SentAt = &now
		outboundAttemptsTotal.WithLabelValues(string(msg.MessageType), "sent").Inc()
	}
	if err := s.outbound.Create(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "Error recording outbound message", "error", err)
	}
}

func (s *Sender) classify(err error) error {
	var perm *smtp.PermanentDeliveryError
	if errors.As(err, &perm) {
		return queuedomain.Permanent(err)
	}
	return err
}
