package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crew/pkg/domain"
	"crew/pkg/secrets"
	"crew/pkg/sentinel"
)

const defaultLocalTokenTTL = time.Hour

// localAccount is a provider-side account record. Passwords are stored as
// bcrypt hashes even in the dev provider so the code path matches production
// expectations.
type localAccount struct {
	id           domain.UserID
	email        string
	passwordHash string
	meta         SignupMetadata
}

// LocalProvider is an in-process identity provider for development and tests.
// It mints real JWT access tokens and pushes auth events through the same
// stream contract as the hosted provider.
type LocalProvider struct {
	mu       sync.Mutex
	accounts map[string]*localAccount
	current  *Identity

	events     broadcaster
	signingKey []byte
	tokenTTL   time.Duration
	// confirmationRequired makes SignUp return no session, modeling a
	// provider with email verification enabled.
	confirmationRequired bool
	now                  func() time.Time
}

// LocalOption customizes the local provider.
type LocalOption func(*LocalProvider)

// WithTokenTTL sets the minted access token lifetime.
func WithTokenTTL(ttl time.Duration) LocalOption {
	return func(p *LocalProvider) {
		if ttl > 0 {
			p.tokenTTL = ttl
		}
	}
}

// WithEmailConfirmation makes SignUp require a confirmation step, so no
// session is returned from account creation.
func WithEmailConfirmation() LocalOption {
	return func(p *LocalProvider) {
		p.confirmationRequired = true
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewLocalProvider builds a local provider signing tokens with the given key.
func NewLocalProvider(signingKey string, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		accounts:   make(map[string]*localAccount),
		signingKey: []byte(signingKey),
		tokenTTL:   defaultLocalTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Seed registers an account without signing it in. Used by dev seeding and tests.
func (p *LocalProvider) Seed(email, password string, meta SignupMetadata) (domain.UserID, error) {
	hash, err := secrets.Hash(password)
	if err != nil {
		return domain.UserID{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalizeEmail(email)
	if _, exists := p.accounts[key]; exists {
		return domain.UserID{}, fmt.Errorf("account %q: %w", email, sentinel.ErrConflict)
	}
	account := &localAccount{
		id:           domain.NewUserID(),
		email:        key,
		passwordHash: hash,
		meta:         meta,
	}
	p.accounts[key] = account
	return account.id, nil
}

func (p *LocalProvider) GetCurrentSession(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.now().After(p.current.ExpiresAt) {
		p.current = nil
	}
	return p.current.Clone(), nil
}

func (p *LocalProvider) GetCurrentUser(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone(), nil
}

func (p *LocalProvider) SubscribeAuthEvents(h EventHandler) func() {
	return p.events.subscribe(h)
}

func (p *LocalProvider) SignInWithPassword(_ context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	account, ok := p.accounts[normalizeEmail(email)]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown account: %w", sentinel.ErrUnauthorized)
	}
	if err := secrets.Verify(password, account.passwordHash); err != nil {
		return nil, fmt.Errorf("password mismatch: %w", sentinel.ErrUnauthorized)
	}

	ident, err := p.establishSession(account)
	if err != nil {
		return nil, err
	}
	p.events.emit(Event{Type: EventSignedIn, Identity: ident.Clone()})
	return ident.Clone(), nil
}

func (p *LocalProvider) SignUp(_ context.Context, email, password string, meta SignupMetadata) (*Identity, error) {
	hash, err := secrets.Hash(password)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	key := normalizeEmail(email)
	if _, exists := p.accounts[key]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("account %q: %w", email, sentinel.ErrConflict)
	}
	account := &localAccount{
		id:           domain.NewUserID(),
		email:        key,
		passwordHash: hash,
		meta:         meta,
	}
	p.accounts[key] = account
	confirmationRequired := p.confirmationRequired
	p.mu.Unlock()

	if confirmationRequired {
		return nil, nil
	}

	ident, err := p.establishSession(account)
	if err != nil {
		return nil, err
	}
	p.events.emit(Event{Type: EventSignedIn, Identity: ident.Clone()})
	return ident.Clone(), nil
}

func (p *LocalProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.events.emit(Event{Type: EventSignedOut})
	return nil
}

// RefreshSession re-mints the access token for the current session and emits
// a TOKEN_REFRESHED event, modeling the hosted provider's background refresh.
func (p *LocalProvider) RefreshSession(_ context.Context) (*Identity, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("no session to refresh: %w", sentinel.ErrInvalidState)
	}
	account, ok := p.accounts[normalizeEmail(p.current.Email)]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("account gone: %w", sentinel.ErrNotFound)
	}

	ident, err := p.establishSession(account)
	if err != nil {
		return nil, err
	}
	p.events.emit(Event{Type: EventTokenRefreshed, Identity: ident.Clone()})
	return ident.Clone(), nil
}

// Metadata returns the signup metadata recorded for a user. The hosted
// provider exposes the same data as user_metadata on the identity record.
func (p *LocalProvider) Metadata(userID domain.UserID) (SignupMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, account := range p.accounts {
		if account.id == userID {
			return account.meta, true
		}
	}
	return SignupMetadata{}, false
}

func (p *LocalProvider) establishSession(account *localAccount) (*Identity, error) {
	now := p.now()
	expires := now.Add(p.tokenTTL)

	claims := jwt.MapClaims{
		"sub":   account.id.String(),
		"email": account.email,
		"iat":   jwt.NewNumericDate(now),
		"exp":   jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	ident := &Identity{
		ID:          account.id,
		Email:       account.email,
		AccessToken: token,
		ExpiresAt:   expires,
	}

	p.mu.Lock()
	p.current = ident
	p.mu.Unlock()
	return ident, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
