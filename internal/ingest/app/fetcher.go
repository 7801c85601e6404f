// Package app polls the inbound mailbox and turns matched messages into
// pending letters with a processing job attached.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polarpost/mailroom/internal/ingest/pop3"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

// DedupFilter is the fast-path recently-seen check in front of the durable
// seen_messages table.
type DedupFilter interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// SenderMatcher resolves a sender address to a registered recipient.
type SenderMatcher interface {
	Match(ctx context.Context, address string) (*domain.Recipient, error)
}

// Fetcher drains the mailbox on a fixed interval. Every message is removed
// from the mailbox once handled, matched or not; unmatched messages are
// logged and dropped rather than retried forever.
type Fetcher struct {
	dialer         pop3.MailboxDialer
	dedup          DedupFilter
	matcher        SenderMatcher
	letters        repository.LetterRepository
	seen           repository.SeenMessageRepository
	notifications  repository.NotificationRepository
	enqueuer       queuedomain.Enqueuer
	logger         *slog.Logger
	interval       time.Duration
	maxJobAttempts int
}

func NewFetcher(
	dialer pop3.MailboxDialer,
	dedup DedupFilter,
	matcher SenderMatcher,
	letters repository.LetterRepository,
	seen repository.SeenMessageRepository,
	notifications repository.NotificationRepository,
	enqueuer queuedomain.Enqueuer,
	logger *slog.Logger,
	interval time.Duration,
	maxJobAttempts int,
) *Fetcher {
	return &Fetcher{
		dialer:         dialer,
		dedup:          dedup,
		matcher:        matcher,
		letters:        letters,
		seen:           seen,
		notifications:  notifications,
		enqueuer:       enqueuer,
		logger:         logger.With("service", "mailbox_fetcher"),
		interval:       interval,
		maxJobAttempts: maxJobAttempts,
	}
}

// Run polls the mailbox until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "Mailbox fetcher starting", "interval", f.interval.String())
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.FetchOnce(ctx); err != nil {
			f.logger.ErrorContext(ctx, "Fetch cycle failed", "error", err)
			fetchCyclesTotal.WithLabelValues("error").Inc()
		} else {
			fetchCyclesTotal.WithLabelValues("ok").Inc()
		}
		select {
		case <-ctx.Done():
			f.logger.InfoContext(ctx, "Mailbox fetcher stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchOnce runs a single poll cycle: connect, handle every message, quit.
// Per-message failures are logged and skipped; the message stays in the
// mailbox for the next cycle.
func (f *Fetcher) FetchOnce(ctx context.Context) error {
	session, err := f.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dialing mailbox: %w", err)
	}
	defer session.Quit()

	seqIDs, err := session.List()
	if err != nil {
		return fmt.Errorf("listing mailbox: %w", err)
	}
	if len(seqIDs) == 0 {
		return nil
	}
	f.logger.InfoContext(ctx, "Mailbox poll found messages", "count", len(seqIDs))

	for _, seqID := range seqIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := session.Fetch(seqID)
		if err != nil {
			f.logger.ErrorContext(ctx, "Error fetching message", "error", err, "seq_id", seqID)
			messagesFetchedTotal.WithLabelValues("error").Inc()
			continue
		}
		if err := f.handleMessage(ctx, session, msg); err != nil {
			f.logger.ErrorContext(ctx, "Error handling message", "error", err, "seq_id", seqID)
			messagesFetchedTotal.WithLabelValues("error").Inc()
		}
	}
	return nil
}

func (f *Fetcher) handleMessage(ctx context.Context, session pop3.MailboxSession, msg *pop3.InboundMessage) error {
	logger := f.logger.With("message_seq", msg.SeqID)

	isNew, err := f.dedup.IsNew(ctx, msg.MessageID)
	if err != nil {
		// Redis down degrades to the durable check only.
		logger.WarnContext(ctx, "Dedup fast path unavailable", "error", err)
		isNew = true
	}
	if !isNew {
		// The fast path can say seen when a previous run crashed after the
		// cache write but before anything durable. Only the durable record
		// authorizes destroying mail.
		seen, err := f.seen.IsSeen(ctx, msg.MessageID)
		if err != nil {
			return fmt.Errorf("checking seen messages: %w", err)
		}
		if seen {
			messagesFetchedTotal.WithLabelValues("duplicate").Inc()
			return session.Delete(msg.SeqID)
		}
		logger.WarnContext(ctx, "Fast path hit without durable record, re-ingesting")
	}

	ingested, err := f.ingest(ctx, msg, logger)
	if err != nil {
		// Undo the fast-path mark so the next cycle retries this message.
		if ferr := f.dedup.Forget(ctx, msg.MessageID); ferr != nil {
			logger.WarnContext(ctx, "Error clearing dedup fast path", "error", ferr)
		}
		return err
	}
	if !ingested {
		messagesFetchedTotal.WithLabelValues("duplicate").Inc()
	}
	return session.Delete(msg.SeqID)
}

// ingest persists the message as a letter if it is genuinely new and from a
// registered sender. Returns false when the message was already ingested.
func (f *Fetcher) ingest(ctx context.Context, msg *pop3.InboundMessage, logger *slog.Logger) (bool, error) {
	seen, err := f.seen.IsSeen(ctx, msg.MessageID)
	if err != nil {
		return false, fmt.Errorf("checking seen messages: %w", err)
	}
	if seen {
		return false, nil
	}
	exists, err := f.letters.ExistsByMessageID(ctx, msg.MessageID)
	if err != nil {
		return false, fmt.Errorf("checking letter existence: %w", err)
	}
	if exists {
		return false, f.seen.MarkSeen(ctx, msg.MessageID, time.Now().UTC())
	}

	recipient, err := f.matcher.Match(ctx, msg.From)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown sender: drop the message, never auto-reply.
			logger.WarnContext(ctx, "Message from unregistered sender dropped", "subject", msg.Subject)
			messagesFetchedTotal.WithLabelValues("unmatched").Inc()
			return true, f.seen.MarkSeen(ctx, msg.MessageID, time.Now().UTC())
		}
		return false, fmt.Errorf("matching sender: %w", err)
	}

	letter := domain.NewLetter(recipient.ID, msg.Subject, msg.BodyText, msg.BodyHTML, msg.MessageID, msg.From, msg.ReceivedAt)
	if err := f.letters.Create(ctx, letter); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return false, f.seen.MarkSeen(ctx, msg.MessageID, time.Now().UTC())
		}
		return false, fmt.Errorf("creating letter: %w", err)
	}

	notification := domain.NewNotification(recipient.ID, domain.NotificationNewLetter,
		fmt.Sprintf("New letter from %s", recipient.DisplayName), nil, &letter.ID)
	if err := f.notifications.Create(ctx, notification); err != nil {
		// The letter and its job matter more than the dashboard ping.
		logger.WarnContext(ctx, "Error creating new-letter notification", "error", err)
	}

	job, err := queuedomain.NewJob(queuedomain.JobTypeProcessLetter, queuedomain.LetterPayload{LetterID: letter.ID}, f.maxJobAttempts)
	if err != nil {
		return false, err
	}
	if err := f.enqueuer.Enqueue(ctx, job); err != nil {
		return false, fmt.Errorf("enqueuing processing job: %w", err)
	}

	if err := f.seen.MarkSeen(ctx, msg.MessageID, time.Now().UTC()); err != nil {
		logger.WarnContext(ctx, "Error recording seen message", "error", err)
	}
	logger.InfoContext(ctx, "Letter ingested", "letter_id", letter.ID, "recipient_id", recipient.ID)
	messagesFetchedTotal.WithLabelValues("ingested").Inc()
	return true, nil
}
