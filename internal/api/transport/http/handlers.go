// Package http exposes the reviewer API: the dashboard reads pipeline state
// and applies human decisions through it. Children never talk to this API;
// their only interface is email.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	mailroomapp "github.com/polarpost/mailroom/internal/mailroom/app"
	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
	queuedomain "github.com/polarpost/mailroom/internal/queue/domain"
)

// AddressHasher derives the stored recipient hash from a raw email address.
type AddressHasher interface {
	HashAddress(address string) string
}

type Handler struct {
	recipients    repository.RecipientRepository
	letters       repository.LetterRepository
	wishItems     repository.WishItemRepository
	flags         repository.ModerationFlagRepository
	replies       repository.ReplyRepository
	outbound      repository.OutboundMessageRepository
	notifications repository.NotificationRepository
	jobs          queuedomain.JobRepository
	deedService   *mailroomapp.DeedService
	reviewService *mailroomapp.ReviewService
	hasher        AddressHasher
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewHandler(
	recipients repository.RecipientRepository,
	letters repository.LetterRepository,
	wishItems repository.WishItemRepository,
	flags repository.ModerationFlagRepository,
	replies repository.ReplyRepository,
	outbound repository.OutboundMessageRepository,
	notifications repository.NotificationRepository,
	jobs queuedomain.JobRepository,
	deedService *mailroomapp.DeedService,
	reviewService *mailroomapp.ReviewService,
	hasher AddressHasher,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		recipients:    recipients,
		letters:       letters,
		wishItems:     wishItems,
		flags:         flags,
		replies:       replies,
		outbound:      outbound,
		notifications: notifications,
		jobs:          jobs,
		deedService:   deedService,
		reviewService: reviewService,
		hasher:        hasher,
		validate:      validator.New(),
		logger:        logger.With("handler", "api"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/recipients", h.handleCreateRecipient)
	r.Get("/recipients", h.handleListRecipients)
	r.Get("/recipients/{recipientID}/letters", h.handleListLetters)
	r.Get("/recipients/{recipientID}/deeds", h.handleListDeeds)
	r.Get("/recipients/{recipientID}/outbound", h.handleListOutbound)
	r.Get("/recipients/{recipientID}/notifications", h.handleListNotifications)

	r.Get("/letters/{letterID}", h.handleGetLetter)
	r.Get("/letters/{letterID}/items", h.handleListWishItems)
	r.Get("/letters/{letterID}/flags", h.handleListFlags)
	r.Get("/letters/{letterID}/reply", h.handleGetReply)

	r.Post("/items/{itemID}/review", h.handleReviewWishItem)

	r.Get("/flags/unreviewed", h.handleListUnreviewedFlags)
	r.Post("/flags/{flagID}/review", h.handleReviewFlag)

	r.Post("/deeds", h.handleSuggestDeed)
	r.Post("/deeds/{deedID}/complete", h.handleCompleteDeed)

	r.Post("/notifications/{notificationID}/read", h.handleMarkNotificationRead)

	r.Get("/jobs/dead", h.handleListDeadJobs)
	r.Post("/jobs/{jobID}/requeue", h.handleRequeueDeadJob)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.logger.Error("Error encoding response", "error", err)
		}
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, status, errorResponse{Error: message})
}

// decodeAndValidate decodes the body into req and runs validation, writing the
// error response itself. Returns false when the handler should bail out.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.jsonError(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.jsonError(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.jsonError(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicate):
		h.jsonError(w, "conflict", http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "Error "+action, "error", err)
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func (h *Handler) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req CreateRecipientRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	recipient := &domain.Recipient{
		ID:          uuid.New(),
		DisplayName: req.DisplayName,
		EmailHash:   h.hasher.HashAddress(req.Email),
		Country:     req.Country,
		BirthYear:   req.BirthYear,
		Language:    req.Language,
	}
	if err := h.recipients.Create(r.Context(), recipient); err != nil {
		h.serviceError(w, r, err, "creating recipient")
		return
	}
	h.respondJSON(w, http.StatusCreated, recipient)
}

func (h *Handler) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	recipients, err := h.recipients.List(r.Context(), limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing recipients")
		return
	}
	h.respondJSON(w, http.StatusOK, recipients)
}

func (h *Handler) handleListLetters(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.urlUUID(w, r, "recipientID")
	if !ok {
		return
	}
	limit, offset := pagination(r)
	var status *domain.LetterStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.LetterStatus(raw)
		status = &s
	}
	letters, err := h.letters.ListByRecipient(r.Context(), recipientID, status, limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing letters")
		return
	}
	h.respondJSON(w, http.StatusOK, letters)
}

func (h *Handler) handleGetLetter(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.urlUUID(w, r, "letterID")
	if !ok {
		return
	}
	letter, err := h.letters.GetByID(r.Context(), letterID)
	if err != nil {
		h.serviceError(w, r, err, "getting letter")
		return
	}
	h.respondJSON(w, http.StatusOK, letter)
}

func (h *Handler) handleListWishItems(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.urlUUID(w, r, "letterID")
	if !ok {
		return
	}
	items, err := h.wishItems.ListByLetterID(r.Context(), letterID)
	if err != nil {
		h.serviceError(w, r, err, "listing wish items")
		return
	}
	h.respondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleListFlags(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.urlUUID(w, r, "letterID")
	if !ok {
		return
	}
	flags, err := h.flags.ListByLetterID(r.Context(), letterID)
	if err != nil {
		h.serviceError(w, r, err, "listing moderation flags")
		return
	}
	h.respondJSON(w, http.StatusOK, flags)
}

func (h *Handler) handleGetReply(w http.ResponseWriter, r *http.Request) {
	letterID, ok := h.urlUUID(w, r, "letterID")
	if !ok {
		return
	}
	reply, err := h.replies.GetByLetterID(r.Context(), letterID)
	if err != nil {
		h.serviceError(w, r, err, "getting reply")
		return
	}
	h.respondJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleReviewWishItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.urlUUID(w, r, "itemID")
	if !ok {
		return
	}
	var req ReviewWishItemRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	var reason *domain.DenialReason
	if req.DenialReason != nil {
		dr := domain.DenialReason(*req.DenialReason)
		reason = &dr
	}
	err := h.reviewService.ReviewWishItem(r.Context(), itemID, domain.WishItemStatus(req.Status), reason, req.DenialNote)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.jsonError(w, "not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListUnreviewedFlags(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	flags, err := h.flags.ListUnreviewed(r.Context(), limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing unreviewed flags")
		return
	}
	h.respondJSON(w, http.StatusOK, flags)
}

func (h *Handler) handleReviewFlag(w http.ResponseWriter, r *http.Request) {
	flagID, ok := h.urlUUID(w, r, "flagID")
	if !ok {
		return
	}
	var req ReviewFlagRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.reviewService.ReviewFlag(r.Context(), flagID, req.Note); err != nil {
		h.serviceError(w, r, err, "reviewing flag")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListDeeds(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.urlUUID(w, r, "recipientID")
	if !ok {
		return
	}
	deeds, err := h.deedService.ListDeeds(r.Context(), recipientID)
	if err != nil {
		h.serviceError(w, r, err, "listing deeds")
		return
	}
	h.respondJSON(w, http.StatusOK, deeds)
}

func (h *Handler) handleSuggestDeed(w http.ResponseWriter, r *http.Request) {
	var req SuggestDeedRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		h.jsonError(w, "invalid recipient_id", http.StatusBadRequest)
		return
	}
	deed, err := h.deedService.SuggestDeed(r.Context(), recipientID, req.Description)
	if err != nil {
		h.serviceError(w, r, err, "suggesting deed")
		return
	}
	h.respondJSON(w, http.StatusCreated, deed)
}

func (h *Handler) handleCompleteDeed(w http.ResponseWriter, r *http.Request) {
	deedID, ok := h.urlUUID(w, r, "deedID")
	if !ok {
		return
	}
	var req CompleteDeedRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	deed, err := h.deedService.CompleteDeed(r.Context(), deedID, req.ParentNote)
	if err != nil {
		h.serviceError(w, r, err, "completing deed")
		return
	}
	h.respondJSON(w, http.StatusOK, deed)
}

func (h *Handler) handleListOutbound(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.urlUUID(w, r, "recipientID")
	if !ok {
		return
	}
	limit, offset := pagination(r)
	msgs, err := h.outbound.ListByRecipient(r.Context(), recipientID, limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing outbound messages")
		return
	}
	h.respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.urlUUID(w, r, "recipientID")
	if !ok {
		return
	}
	limit, offset := pagination(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := h.notifications.ListByRecipient(r.Context(), recipientID, unreadOnly, limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing notifications")
		return
	}
	h.respondJSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := h.urlUUID(w, r, "notificationID")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), notificationID); err != nil {
		h.serviceError(w, r, err, "marking notification read")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListDeadJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	jobs, err := h.jobs.ListDead(r.Context(), limit, offset)
	if err != nil {
		h.serviceError(w, r, err, "listing dead jobs")
		return
	}
	h.respondJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleRequeueDeadJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.urlUUID(w, r, "jobID")
	if !ok {
		return
	}
	if err := h.jobs.RequeueDead(r.Context(), jobID); err != nil {
		if errors.Is(err, queuedomain.ErrJobNotFound) {
			h.jsonError(w, "not found", http.StatusNotFound)
			return
		}
		h.serviceError(w, r, err, "requeuing dead job")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}
