package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/substatus/backend/internal/domain"
	"github.com/substatus/backend/internal/service"
)

// CheckoutHandler is the pass-through to the provider's hosted checkout.
type CheckoutHandler struct {
	svc      *service.Reconciler
	validate *validator.Validate
}

func NewCheckoutHandler(svc *service.Reconciler) *CheckoutHandler {
	return &CheckoutHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

// Create handles POST /create-checkout-session.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		Error(w, domain.ErrValidation(err.Error()))
		return
	}

	sess, err := h.svc.CreateCheckout(r.Context(), req.UID, req.Email)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.CreateCheckoutResponse{URL: sess.URL})
}
