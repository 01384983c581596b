package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"crew/internal/coordinator"
	"crew/internal/identity"
	"crew/internal/invitation/models"
	profile "crew/internal/profile/models"
	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
	"crew/pkg/sentinel"
)

// FlowState is the phase of an invitee's onboarding flow.
type FlowState string

const (
	FlowValidate   FlowState = "VALIDATE"
	FlowSignup     FlowState = "SIGNUP"
	FlowProcessing FlowState = "PROCESSING"
	FlowComplete   FlowState = "COMPLETE"
	FlowInvalid    FlowState = "INVALID"
)

// flowEdges enumerates the legal flow transitions. COMPLETE and INVALID are
// terminal.
var flowEdges = map[FlowState]map[FlowState]bool{
	FlowValidate:   {FlowSignup: true, FlowInvalid: true},
	FlowSignup:     {FlowProcessing: true, FlowInvalid: true},
	FlowProcessing: {FlowComplete: true},
}

func flowTransition(from, to FlowState) (FlowState, error) {
	if !flowEdges[from][to] {
		return from, fmt.Errorf("invitation flow transition %s -> %s: %w", from, to, sentinel.ErrInvalidState)
	}
	return to, nil
}

// Authenticator is the slice of the auth coordinator the flow needs.
type Authenticator interface {
	Signup(ctx context.Context, email, password string, seed profile.Seed, client coordinator.ClientInfo) (*identity.Identity, error)
	Snapshot() coordinator.Snapshot
	Subscribe() (<-chan coordinator.Snapshot, func())
}

// Flow drives one invitee through validate, signup, accept. A Flow instance
// belongs to a single invitee and is not reusable.
//
// The state machine doubles as the latch: validation can only happen from
// VALIDATE, signup only from SIGNUP, and the accept call only fires while in
// PROCESSING, so each step runs at most once per flow no matter how the
// caller retries. The mutex is held across store calls; the flow is a
// short-lived, single-user object, not a shared hot path.
type Flow struct {
	service *Service
	auth    Authenticator
	logger  *slog.Logger

	mu         sync.Mutex
	state      FlowState
	token      string
	validation *models.Validation
	signupDone bool
	// Name entered at signup, carried into the accept so the profile binding
	// can write it even when acceptance happens on a later auth snapshot.
	firstName string
	lastName  string
}

// NewFlow constructs a flow in FlowValidate.
func NewFlow(service *Service, auth Authenticator) *Flow {
	return &Flow{
		service: service,
		auth:    auth,
		logger:  service.logger,
		state:   FlowValidate,
	}
}

// State returns the current flow state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Validation returns the validated invitation attributes, nil before a
// successful Validate.
func (f *Flow) Validation() *models.Validation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validation == nil {
		return nil
	}
	v := *f.validation
	return &v
}

// Validate checks the invitation token and, when valid, advances to SIGNUP
// with the invitation's email, role and tenant pinned for the signup step.
//
// A visitor who is already authenticated does not belong in this flow:
// CodeAlreadyAuthenticated tells the caller to redirect to the app instead.
func (f *Flow) Validate(ctx context.Context, token string) (*models.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.redirectGuardLocked(); err != nil {
		return nil, err
	}
	if f.state != FlowValidate {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("invitation already validated (flow is %s)", f.state))
	}

	validation, err := f.service.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		f.state, _ = flowTransition(f.state, FlowInvalid)
		return nil, dErrors.New(dErrors.CodeInvitationInvalid, validation.Reason)
	}

	next, err := flowTransition(f.state, FlowSignup)
	if err != nil {
		return nil, err
	}
	f.state = next
	f.token = token
	f.validation = validation
	return validation, nil
}

// Signup creates the account through the auth coordinator using the
// invitation's role and tenant as the profile seed, then arranges for the
// invitation to be accepted once the signup session is authenticated.
//
// Acceptance is at-least-once: it may fire from this call (provider session
// established synchronously) and again from a later auth snapshot; the
// server-side accept is idempotent, so duplicates collapse.
func (f *Flow) Signup(ctx context.Context, firstName, lastName, password string, client coordinator.ClientInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.redirectGuardLocked(); err != nil {
		return err
	}
	if f.state != FlowSignup {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("flow is %s, expected %s", f.state, FlowSignup))
	}

	tenantID := f.validation.TenantID
	seed := profile.Seed{
		FirstName: firstName,
		LastName:  lastName,
		Role:      f.validation.Role,
		TenantID:  &tenantID,
	}

	ident, err := f.auth.Signup(ctx, f.validation.Email, password, seed, client)
	if err != nil {
		// Stay in SIGNUP; the invitee can correct the password and retry.
		return err
	}

	f.signupDone = true
	f.firstName = firstName
	f.lastName = lastName
	next, err := flowTransition(f.state, FlowProcessing)
	if err != nil {
		return err
	}
	f.state = next

	if ident != nil {
		f.acceptAndCompleteLocked(ctx, ident.ID)
		return nil
	}

	// Email confirmation pending: watch auth snapshots and accept once the
	// invitee's session materializes.
	go f.watchForSession()
	return nil
}

// redirectGuardLocked rejects onboarding steps from an already-authenticated
// visitor. The invitee's own signup session does not trip it: signupDone
// marks the authentication as belonging to this flow.
func (f *Flow) redirectGuardLocked() error {
	if f.signupDone {
		return nil
	}
	if f.auth.Snapshot().Authenticated {
		return dErrors.New(dErrors.CodeAlreadyAuthenticated, "already signed in; invitation flow is for new accounts")
	}
	return nil
}

// acceptAndCompleteLocked runs the accept and advances to COMPLETE whether or
// not it succeeded. A failed accept is recoverable out of band (the profile
// keeps its default role until support re-runs the accept); a flow stuck in
// PROCESSING is not.
func (f *Flow) acceptAndCompleteLocked(ctx context.Context, userID domain.UserID) {
	if _, err := f.service.Accept(ctx, f.token, userID, f.firstName, f.lastName); err != nil {
		f.logger.ErrorContext(ctx, "invitation accept failed after signup",
			"user_id", userID.String(),
			"error", err,
		)
	}
	if next, err := flowTransition(f.state, FlowComplete); err == nil {
		f.state = next
	}
}

// watchForSession waits for the coordinator to report an authenticated
// session for the signed-up invitee, then accepts the invitation.
func (f *Flow) watchForSession() {
	snapshots, cancel := f.auth.Subscribe()
	defer cancel()

	// The session may already exist by the time we subscribe.
	if snap := f.auth.Snapshot(); f.tryAccept(snap) {
		return
	}
	for snap := range snapshots {
		if f.tryAccept(snap) {
			return
		}
	}
}

// tryAccept runs the accept if the snapshot carries an authenticated session
// and the flow is still processing. Returns true when the flow reached a
// terminal state.
func (f *Flow) tryAccept(snap coordinator.Snapshot) bool {
	if !snap.Authenticated || snap.Identity == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FlowProcessing || !f.signupDone {
		return f.state == FlowComplete || f.state == FlowInvalid
	}
	f.acceptAndCompleteLocked(context.Background(), snap.Identity.ID)
	return true
}
