// Package app runs a letter through the processing pipeline: wish extraction,
// content moderation, product enrichment, reply composition, and the safety
// gate. Stages are ordered so a retry after a partial failure resumes cleanly:
// extracted items and moderation flags are kept (reviewers may have touched
// them between attempts), drafted replies are recomposed.
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
	"github.com/polarpost/mailroom/internal/pipeline/llm"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

const deedAvoidWindow = 5

// ProcessorConfig carries the pipeline knobs.
type ProcessorConfig struct {
	SafetyCheckEnabled   bool
	ModerationStrictness string
	DefaultCountry       string
	MaxJobAttempts       int
}

// Processor handles process_letter jobs.
type Processor struct {
	letters       repository.LetterRepository
	recipients    repository.RecipientRepository
	wishItems     repository.WishItemRepository
	flags         repository.ModerationFlagRepository
	replies       repository.ReplyRepository
	deeds         repository.GoodDeedRepository
	notifications repository.NotificationRepository
	model         llm.Client
	enqueuer      queuedomain.Enqueuer
	logger        *slog.Logger
	cfg           ProcessorConfig
}

func NewProcessor(
	letters repository.LetterRepository,
	recipients repository.RecipientRepository,
	wishItems repository.WishItemRepository,
	flags repository.ModerationFlagRepository,
	replies repository.ReplyRepository,
	deeds repository.GoodDeedRepository,
	notifications repository.NotificationRepository,
	model llm.Client,
	enqueuer queuedomain.Enqueuer,
	logger *slog.Logger,
	cfg ProcessorConfig,
) *Processor {
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "US"
	}
	return &Processor{
		letters:       letters,
		recipients:    recipients,
		wishItems:     wishItems,
		flags:         flags,
		replies:       replies,
		deeds:         deeds,
		notifications: notifications,
		model:         model,
		enqueuer:      enqueuer,
		logger:        logger.With("service", "letter_processor"),
		cfg:           cfg,
	}
}

// HandleProcessLetter is the worker handler for process_letter jobs.
func (p *Processor) HandleProcessLetter(ctx context.Context, job *queuedomain.Job) error {
	var payload queuedomain.LetterPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queuedomain.Permanent(fmt.Errorf("decoding payload: %w", err))
	}
	logger := p.logger.With("letter_id", payload.LetterID, "attempt", job.Attempts)

	err := p.processLetter(ctx, payload.LetterID, logger)
	if err != nil {
		// On the final attempt the letter itself is marked failed so the
		// dashboard shows it without digging through dead jobs.
		if queuedomain.IsPermanent(err) || job.Attempts >= job.MaxAttempts {
			msg := err.Error()
			if uerr := p.letters.UpdateStatus(ctx, payload.LetterID, domain.LetterStatusFailed, &msg); uerr != nil {
				logger.ErrorContext(ctx, "Error marking letter failed", "error", uerr)
			}
			lettersProcessedTotal.WithLabelValues("failed").Inc()
		}
		return err
	}
	return nil
}

func (p *Processor) processLetter(ctx context.Context, letterID uuid.UUID, logger *slog.Logger) error {
	letter, err := p.letters.GetByID(ctx, letterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queuedomain.Permanent(fmt.Errorf("letter %s not found", letterID))
		}
		return fmt.Errorf("loading letter: %w", err)
	}

	// A reply already past drafted means a previous run finished composition;
	// nothing left to redo.
	if existing, err := p.replies.GetByLetterID(ctx, letter.ID); err == nil && existing.Status != domain.ReplyStatusDrafted {
		logger.InfoContext(ctx, "Letter already has a finalized reply, skipping", "reply_status", existing.Status)
		return nil
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("checking existing reply: %w", err)
	}

	recipient, err := p.recipients.GetByID(ctx, letter.RecipientID)
	if err != nil {
		return fmt.Errorf("loading recipient: %w", err)
	}

	if err := p.letters.UpdateStatus(ctx, letter.ID, domain.LetterStatusProcessing, nil); err != nil {
		return fmt.Errorf("marking letter processing: %w", err)
	}

	items, err := p.extractWishes(ctx, letter, logger)
	if err != nil {
		stageFailuresTotal.WithLabelValues("extraction").Inc()
		return fmt.Errorf("extraction stage: %w", err)
	}

	if err := p.moderate(ctx, letter, recipient, logger); err != nil {
		stageFailuresTotal.WithLabelValues("moderation").Inc()
		return fmt.Errorf("moderation stage: %w", err)
	}

	p.enrich(ctx, items, recipient, logger)

	reply, err := p.compose(ctx, letter, recipient, logger)
	if err != nil {
		stageFailuresTotal.WithLabelValues("composition").Inc()
		return fmt.Errorf("composition stage: %w", err)
	}

	blocked, err := p.gate(ctx, letter, reply, logger)
	if err != nil {
		stageFailuresTotal.WithLabelValues("safety").Inc()
		return fmt.Errorf("safety stage: %w", err)
	}

	if err := p.letters.UpdateStatus(ctx, letter.ID, domain.LetterStatusProcessed, nil); err != nil {
		return fmt.Errorf("marking letter processed: %w", err)
	}
	if blocked {
		lettersProcessedTotal.WithLabelValues("blocked").Inc()
	} else {
		lettersProcessedTotal.WithLabelValues("processed").Inc()
	}
	logger.InfoContext(ctx, "Letter processed", "blocked", blocked, "wish_items", len(items))
	return nil
}

// extractWishes runs extraction once per letter. Rows from a previous attempt
// are kept untouched: reviewers may already have approved or denied them, and
// those decisions survive a retry.
func (p *Processor) extractWishes(ctx context.Context, letter *domain.Letter, logger *slog.Logger) ([]*domain.WishItem, error) {
	existing, err := p.wishItems.ListByLetterID(ctx, letter.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		logger.InfoContext(ctx, "Wish items already extracted, keeping reviewed rows", "count", len(existing))
		return existing, nil
	}

	extracted, err := p.model.ExtractWishItems(ctx, letter.BodyText)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]*domain.WishItem, 0, len(extracted))
	for _, e := range extracted {
		items = append(items, &domain.WishItem{
			ID:             uuid.New(),
			LetterID:       letter.ID,
			RawText:        e.RawText,
			NormalizedName: e.NormalizedName,
			Category:       e.Category,
			Status:         domain.WishItemStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := p.wishItems.CreateBatch(ctx, items); err != nil {
		return nil, err
	}
	wishItemsExtractedTotal.Add(float64(len(items)))
	return items, nil
}

// moderate classifies the letter unless a previous run already produced
// flags. Flags are append-only; reviewers may have annotated them.
func (p *Processor) moderate(ctx context.Context, letter *domain.Letter, recipient *domain.Recipient, logger *slog.Logger) error {
	exists, err := p.flags.ExistsForLetter(ctx, letter.ID)
	if err != nil {
		return err
	}
	if exists {
		logger.InfoContext(ctx, "Moderation flags already present, skipping classification")
		return nil
	}

	found, err := p.model.ClassifyContent(ctx, letter.BodyText, p.cfg.ModerationStrictness)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	now := time.Now().UTC()
	flags := make([]*domain.ModerationFlag, 0, len(found))
	highest := domain.SeverityLow
	for _, f := range found {
		severity := domain.FlagSeverity(f.Severity)
		flags = append(flags, &domain.ModerationFlag{
			ID:          uuid.New(),
			LetterID:    letter.ID,
			FlagType:    f.FlagType,
			Severity:    severity,
			Excerpt:     f.Excerpt,
			Confidence:  f.Confidence,
			Explanation: f.Explanation,
			CreatedAt:   now,
		})
		moderationFlagsTotal.WithLabelValues(f.Severity).Inc()
		if severity == domain.SeverityHigh || (severity == domain.SeverityMedium && highest == domain.SeverityLow) {
			highest = severity
		}
	}
	if err := p.flags.CreateBatch(ctx, flags); err != nil {
		return err
	}

	title := fmt.Sprintf("Letter from %s flagged (%s)", recipient.DisplayName, highest)
	notification := domain.NewNotification(recipient.ID, domain.NotificationModerationFlag, title, nil, &letter.ID)
	if err := p.notifications.Create(ctx, notification); err != nil {
		logger.WarnContext(ctx, "Error creating moderation notification", "error", err)
	}
	return nil
}

// enrich fills product details per item. Enrichment is best effort: a failed
// lookup leaves the item un-enriched and the pipeline moves on.
func (p *Processor) enrich(ctx context.Context, items []*domain.WishItem, recipient *domain.Recipient, logger *slog.Logger) {
	country := p.cfg.DefaultCountry
	if recipient.Country != nil && *recipient.Country != "" {
		country = *recipient.Country
	}
	for _, item := range items {
		// Denied items will not be granted; already-enriched items keep
		// their previous lookup result across retries.
		if item.Status == domain.WishItemStatusDenied || item.EstimatedPrice != nil {
			continue
		}
		info, err := p.model.SearchProduct(ctx, item.DisplayName(), country)
		if err != nil {
			logger.WarnContext(ctx, "Product enrichment failed", "error", err, "wish_item_id", item.ID)
			stageFailuresTotal.WithLabelValues("enrichment").Inc()
			continue
		}
		item.EstimatedPrice = info.EstimatedPrice
		item.Currency = info.Currency
		item.ProductURL = info.ProductURL
		item.ProductImage = info.ImageURL
		item.ProductDesc = info.Description
		if err := p.wishItems.UpdateEnrichment(ctx, item); err != nil {
			logger.WarnContext(ctx, "Error saving enrichment", "error", err, "wish_item_id", item.ID)
		}
	}
}

// compose drafts the reply. Denied wishes never reach the composer input;
// item statuses are re-read here because a reviewer can deny an item between
// attempts of the same job.
func (p *Processor) compose(ctx context.Context, letter *domain.Letter, recipient *domain.Recipient, logger *slog.Logger) (*domain.Reply, error) {
	items, err := p.wishItems.ListByLetterID(ctx, letter.ID)
	if err != nil {
		return nil, err
	}
	if err := p.replies.DeleteDraftByLetterID(ctx, letter.ID); err != nil {
		return nil, err
	}

	completed, err := p.deeds.ListCompletedUnacknowledged(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	avoid, err := p.deeds.RecentSuggestions(ctx, recipient.ID, deedAvoidWindow)
	if err != nil {
		return nil, err
	}

	input := llm.ReplyInput{
		RecipientName: recipient.DisplayName,
		Age:           recipient.Age(time.Now().UTC()),
		Language:      recipient.Language,
		LetterSubject: letter.Subject,
		LetterBody:    letter.BodyText,
		AvoidDeeds:    avoid,
	}
	for _, item := range items {
		if item.Status == domain.WishItemStatusDenied {
			continue
		}
		input.WishItems = append(input.WishItems, item.DisplayName())
	}
	for _, deed := range completed {
		input.CompletedDeeds = append(input.CompletedDeeds, deed.Description)
	}

	composed, err := p.model.ComposeReply(ctx, input)
	if err != nil {
		return nil, err
	}

	reply := domain.NewReply(letter.ID, composed.BodyText, composed.SuggestedDeed)
	if err := p.replies.Create(ctx, reply); err != nil {
		return nil, err
	}

	if composed.SuggestedDeed != nil {
		deed := domain.NewGoodDeed(recipient.ID, *composed.SuggestedDeed, &reply.ID)
		if err := p.deeds.Create(ctx, deed); err != nil {
			logger.WarnContext(ctx, "Error recording suggested deed", "error", err)
		}
	}
	for _, deed := range completed {
		if err := p.deeds.AcknowledgeInReply(ctx, deed.ID, reply.ID); err != nil {
			logger.WarnContext(ctx, "Error acknowledging deed in reply", "error", err, "deed_id", deed.ID)
		}
	}
	return reply, nil
}

// gate runs the safety check and either queues the reply for sending or
// blocks it terminally. Returns true when the reply was blocked.
func (p *Processor) gate(ctx context.Context, letter *domain.Letter, reply *domain.Reply, logger *slog.Logger) (bool, error) {
	if !p.cfg.SafetyCheckEnabled {
		verdict := domain.SafetyVerdict{Checked: false, IsSafe: true}
		if err := p.replies.SetSafetyVerdict(ctx, reply.ID, verdict, domain.ReplyStatusQueued); err != nil {
			return false, err
		}
		safetyVerdictsTotal.WithLabelValues("unchecked").Inc()
		return false, p.enqueueSend(ctx, letter.ID)
	}

	result, err := p.model.CheckSafety(ctx, reply.BodyText)
	if err != nil {
		return false, err
	}
	verdict := domain.SafetyVerdict{
		Checked:     true,
		IsSafe:      *result.IsSafe,
		Issues:      result.Issues,
		Severity:    result.Severity,
		Explanation: result.Explanation,
	}
	if !verdict.IsSafe {
		logger.WarnContext(ctx, "Reply blocked by safety gate", "reply_id", reply.ID, "issues", result.Issues, "severity", result.Severity)
		if err := p.replies.SetSafetyVerdict(ctx, reply.ID, verdict, domain.ReplyStatusBlocked); err != nil {
			return false, err
		}
		safetyVerdictsTotal.WithLabelValues("blocked").Inc()
		return true, nil
	}

	if err := p.replies.SetSafetyVerdict(ctx, reply.ID, verdict, domain.ReplyStatusQueued); err != nil {
		return false, err
	}
	safetyVerdictsTotal.WithLabelValues("approved").Inc()
	return false, p.enqueueSend(ctx, letter.ID)
}

func (p *Processor) enqueueSend(ctx context.Context, letterID uuid.UUID) error {
	job, err := queuedomain.NewJob(queuedomain.JobTypeSendReply, queuedomain.LetterPayload{LetterID: letterID}, p.cfg.MaxJobAttempts)
	if err != nil {
		return err
	}
	return p.enqueuer.Enqueue(ctx, job)
}
