package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/internal/service"
)

// SubscriptionHandler exposes the reconciliation operations over HTTP.
type SubscriptionHandler struct {
	svc      *service.Reconciler
	validate *validator.Validate
}

func NewSubscriptionHandler(svc *service.Reconciler) *SubscriptionHandler {
	return &SubscriptionHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

// Check handles GET /check-subscription/{userId}?force={bool}.
func (h *SubscriptionHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	force := r.URL.Query().Get("force") == "true"

	rec, err := h.svc.CheckStatus(r.Context(), userID, force)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.CheckSubscriptionResponse{Subscribed: rec.Subscribed()})
}

// Refresh handles POST /refresh-subscription/{userId}. A forced refresh is
// the only way to heal a record whose webhook delivery was lost entirely.
func (h *SubscriptionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rec, err := h.svc.CheckStatus(r.Context(), userID, true)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.RefreshSubscriptionResponse{Success: true, Subscribed: rec.Subscribed()})
}

// Cancel handles POST /cancel-subscription/{userId}.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rec, err := h.svc.Cancel(r.Context(), userID)
	if err != nil {
		if appErr, ok := domain.AsAppError(err); ok {
			JSON(w, appErr.Code, domain.CancelSubscriptionResponse{Success: false, Error: appErr.Message})
			return
		}
		log.Printf("❌ cancel failed for user %s: %v", userID, err)
		JSON(w, http.StatusInternalServerError, domain.CancelSubscriptionResponse{Success: false, Error: "internal server error"})
		return
	}
	JSON(w, http.StatusOK, domain.CancelSubscriptionResponse{Success: true, SubscriptionID: rec.SubscriptionID})
}

// Set handles POST /set-subscription/{userId}. Diagnostic override, gated
// behind admin auth in the router.
func (h *SubscriptionHandler) Set(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req domain.SetSubscriptionRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		Error(w, domain.ErrValidation(err.Error()))
		return
	}

	rec := h.svc.SetOverride(r.Context(), userID, *req.Subscribed)
	JSON(w, http.StatusOK, map[string]any{"success": true, "subscribed": rec.Subscribed()})
}

// Debug handles GET /debug-subscriptions/{userId}: the user's provider
// handles as seen by the bounded scan. Admin-gated in the router.
func (h *SubscriptionHandler) Debug(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	matches, total, err := h.svc.DebugSubscriptions(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"userId":             userID,
		"totalSubscriptions": total,
		"userSubscriptions":  len(matches),
		"subscriptions":      matches,
	})
}

// FixMetadata handles POST /fix-subscription-metadata/{userId}: tags the
// newest untagged entitled handle with the user ID. Admin-gated in the router.
func (h *SubscriptionHandler) FixMetadata(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rec, err := h.svc.FixMetadata(r.Context(), userID)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) && appErr.Code == http.StatusNotFound {
			JSON(w, http.StatusOK, map[string]any{"success": true, "message": "no subscriptions found without metadata"})
			return
		}
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "subscriptionId": rec.SubscriptionID})
}
