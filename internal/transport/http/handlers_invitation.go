package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crew/internal/audit"
	"crew/internal/invitation/models"
	invitationsvc "crew/internal/invitation/service"
	jsonResponse "crew/internal/transport/http/json"
	"crew/internal/transport/http/shared"
	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
)

// InvitationHandler exposes the inviter-side management endpoints and the
// invitee-side onboarding flow. Each accept request drives a fresh flow
// instance through validate and signup; the flow's state machine keeps the
// steps ordered within the request.
type InvitationHandler struct {
	service *invitationsvc.Service
	coord   invitationsvc.Authenticator
	audit   *audit.Publisher
}

// NewInvitationHandler constructs the invitation handler.
func NewInvitationHandler(service *invitationsvc.Service, coord invitationsvc.Authenticator, auditor *audit.Publisher) *InvitationHandler {
	return &InvitationHandler{service: service, coord: coord, audit: auditor}
}

type createInvitationRequest struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

type invitationView struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	TenantID   string     `json:"tenant_id"`
	TenantName string     `json:"tenant_name,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

type validationView struct {
	Valid      bool   `json:"valid"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	TenantName string `json:"tenant_name,omitempty"`
}

type acceptRequest struct {
	Token     string `json:"token"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

func (h *InvitationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	if !snap.Authenticated || snap.Identity == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "sign in to invite members"))
		return
	}

	var req createInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	tenantID, err := domain.ParseTenantID(req.TenantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	params := invitationsvc.CreateParams{
		Email:      req.Email,
		Role:       req.Role,
		TenantID:   tenantID,
		TenantName: req.TenantName,
		InvitedBy:  snap.Identity.ID,
	}
	if snap.Profile != nil {
		params.InviterName = snap.Profile.FirstName + " " + snap.Profile.LastName
	}

	invitation, err := h.service.Create(r.Context(), params)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if h.audit != nil {
		_ = h.audit.Emit(r.Context(), audit.Event{
			Action:   audit.ActionInvitationCreated,
			UserID:   snap.Identity.ID,
			Email:    invitation.Email,
			TenantID: invitation.TenantID.String(),
		})
	}
	jsonResponse.WriteJSON(w, http.StatusCreated, invitationToView(invitation))
}

func (h *InvitationHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	flow := invitationsvc.NewFlow(h.service, h.coord)
	validation, err := flow.Validate(r.Context(), token)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvitationInvalid) {
			// Invalid tokens are an expected outcome, not an error response:
			// the onboarding page shows the reason.
			jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{
				"valid":  false,
				"reason": err.Error(),
			})
			return
		}
		shared.WriteError(w, err)
		return
	}

	jsonResponse.WriteJSON(w, http.StatusOK, validationView{
		Valid:      true,
		Email:      validation.Email,
		Role:       string(validation.Role),
		TenantID:   validation.TenantID.String(),
		TenantName: validation.TenantName,
	})
}

func (h *InvitationHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Password == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "password is required"))
		return
	}

	flow := invitationsvc.NewFlow(h.service, h.coord)
	if _, err := flow.Validate(r.Context(), req.Token); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := flow.Signup(r.Context(), req.FirstName, req.LastName, req.Password, clientInfo(r)); err != nil {
		shared.WriteError(w, err)
		return
	}

	snap := h.coord.Snapshot()
	if h.audit != nil && snap.Identity != nil {
		_ = h.audit.Emit(r.Context(), audit.Event{
			Action: audit.ActionInvitationAccept,
			UserID: snap.Identity.ID,
			Email:  snap.Identity.Email,
		})
	}
	jsonResponse.WriteJSON(w, http.StatusCreated, map[string]any{
		"flow":  string(flow.State()),
		"state": stateView(snap),
	})
}

func (h *InvitationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	if !snap.Authenticated {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "sign in to list invitations"))
		return
	}
	tenantID, err := domain.ParseTenantID(r.URL.Query().Get("tenant_id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	invitations, err := h.service.ListByTenant(r.Context(), tenantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	views := make([]invitationView, 0, len(invitations))
	for _, invitation := range invitations {
		views = append(views, invitationToView(invitation))
	}
	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{"invitations": views})
}

func (h *InvitationHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	if !snap.Authenticated || snap.Identity == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "sign in to revoke invitations"))
		return
	}
	id, err := domain.ParseInvitationID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.service.Revoke(r.Context(), id); err != nil {
		shared.WriteError(w, err)
		return
	}
	if h.audit != nil {
		_ = h.audit.Emit(r.Context(), audit.Event{
			Action: audit.ActionInvitationRevoked,
			UserID: snap.Identity.ID,
			Reason: id.String(),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func invitationToView(invitation *models.Invitation) invitationView {
	return invitationView{
		ID:         invitation.ID.String(),
		Email:      invitation.Email,
		Role:       string(invitation.Role),
		TenantID:   invitation.TenantID.String(),
		TenantName: invitation.TenantName,
		Status:     string(invitation.Status),
		CreatedAt:  invitation.CreatedAt,
		ExpiresAt:  invitation.ExpiresAt,
		AcceptedAt: invitation.AcceptedAt,
	}
}
