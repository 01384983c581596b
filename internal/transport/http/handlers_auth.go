package httptransport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"crew/internal/audit"
	"crew/internal/coordinator"
	"crew/internal/identity"
	"crew/internal/platform/middleware"
	profile "crew/internal/profile/models"
	session "crew/internal/session/models"
	jsonResponse "crew/internal/transport/http/json"
	"crew/internal/transport/http/shared"
	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
)

// Coordinator is the auth surface the handlers need.
type Coordinator interface {
	Login(ctx context.Context, email, password string, client coordinator.ClientInfo) error
	Signup(ctx context.Context, email, password string, seed profile.Seed, client coordinator.ClientInfo) (*identity.Identity, error)
	Logout(ctx context.Context) error
	Snapshot() coordinator.Snapshot
}

// SessionLister lists the current user's active sessions.
type SessionLister interface {
	ListForUser(ctx context.Context, userID domain.UserID) ([]session.Summary, error)
}

// AuthHandler exposes login, signup, logout and auth state over HTTP. It
// delegates to the coordinator without embedding business logic.
type AuthHandler struct {
	coord    Coordinator
	sessions SessionLister
	audit    *audit.Publisher
}

// NewAuthHandler constructs the auth handler.
func NewAuthHandler(coord Coordinator, sessions SessionLister, auditor *audit.Publisher) *AuthHandler {
	return &AuthHandler{coord: coord, sessions: sessions, audit: auditor}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type profileView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type stateResponse struct {
	State         string       `json:"state"`
	Authenticated bool         `json:"authenticated"`
	Loading       bool         `json:"loading"`
	User          *userView    `json:"user,omitempty"`
	Profile       *profileView `json:"profile,omitempty"`
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "email and password are required"))
		return
	}

	client := clientInfo(r)
	if err := h.coord.Login(r.Context(), req.Email, req.Password, client); err != nil {
		h.emit(r, audit.Event{Action: audit.ActionLoginFailed, Email: req.Email, Reason: string(dErrors.CodeOf(err))})
		shared.WriteError(w, err)
		return
	}

	snap := h.coord.Snapshot()
	if snap.Identity != nil {
		h.emit(r, audit.Event{Action: audit.ActionLogin, UserID: snap.Identity.ID, Email: snap.Identity.Email})
	}
	jsonResponse.WriteJSON(w, http.StatusOK, stateView(snap))
}

func (h *AuthHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "email and password are required"))
		return
	}

	seed := profile.Seed{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      profile.Role(req.Role),
	}
	if req.TenantID != "" {
		tenantID, err := domain.ParseTenantID(req.TenantID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		seed.TenantID = &tenantID
	}

	ident, err := h.coord.Signup(r.Context(), req.Email, req.Password, seed, clientInfo(r))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if ident == nil {
		jsonResponse.WriteJSON(w, http.StatusAccepted, map[string]string{
			"status": "confirmation_required",
		})
		return
	}

	h.emit(r, audit.Event{Action: audit.ActionSignup, UserID: ident.ID, Email: ident.Email})
	jsonResponse.WriteJSON(w, http.StatusCreated, stateView(h.coord.Snapshot()))
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()

	if err := h.coord.Logout(r.Context()); err != nil {
		shared.WriteError(w, err)
		return
	}
	if snap.Identity != nil {
		h.emit(r, audit.Event{Action: audit.ActionLogout, UserID: snap.Identity.ID, Email: snap.Identity.Email})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleState(w http.ResponseWriter, r *http.Request) {
	jsonResponse.WriteJSON(w, http.StatusOK, stateView(h.coord.Snapshot()))
}

func (h *AuthHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	if !snap.Authenticated || snap.Identity == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "not signed in"))
		return
	}
	summaries, err := h.sessions.ListForUser(r.Context(), snap.Identity.ID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *AuthHandler) emit(r *http.Request, event audit.Event) {
	if h.audit == nil {
		return
	}
	event.RequestID = middleware.GetRequestID(r.Context())
	event.IPAddress = remoteIP(r)
	_ = h.audit.Emit(r.Context(), event)
}

func stateView(snap coordinator.Snapshot) stateResponse {
	resp := stateResponse{
		State:         string(snap.State),
		Authenticated: snap.Authenticated,
		Loading:       snap.Loading,
	}
	if snap.Identity != nil {
		resp.User = &userView{ID: snap.Identity.ID.String(), Email: snap.Identity.Email}
	}
	if snap.Profile != nil {
		resp.Profile = &profileView{
			ID:        snap.Profile.ID.String(),
			Email:     snap.Profile.Email,
			FirstName: snap.Profile.FirstName,
			LastName:  snap.Profile.LastName,
			Role:      string(snap.Profile.Role),
			AvatarURL: snap.Profile.AvatarURL,
		}
		if snap.Profile.TenantID != nil {
			resp.Profile.TenantID = snap.Profile.TenantID.String()
		}
	}
	return resp
}

func clientInfo(r *http.Request) coordinator.ClientInfo {
	return coordinator.ClientInfo{IP: remoteIP(r), UserAgent: r.UserAgent()}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
