package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Cookie names. "csfr" keeps the spelling existing front-ends expect.
const (
	danceCookieName        = "dance"
	csrfCookieName         = "csfr"
	clientIDCookieName     = "clientId"
	clientSecretCookieName = "clientSecret"
	providerCookieName     = "provider"
)

// State modes for dance.state_mode.
const (
	StateModeSession = "session"
	StateModeCookies = "cookies"
)

// DanceStateStore carries DanceState from initiate to callback.
type DanceStateStore interface {
	// Save attaches state to the initiate response.
	Save(w http.ResponseWriter, r *http.Request, state DanceState) error
	// Load returns whatever state came back with the callback request.
	Load(r *http.Request) DanceState
	// Clear invalidates the state on the callback response.
	Clear(w http.ResponseWriter, r *http.Request)
}

// NewDanceStateStore picks the store configured by cfg.Dance.StateMode.
func NewDanceStateStore(cfg Config, store *InMemoryStore, logger *slog.Logger) (DanceStateStore, error) {
	opts := newCookieOptions(cfg)
	switch cfg.Dance.StateMode {
	case "", StateModeSession:
		signer, err := newCookieSigner(cfg.Dance.CookieSecret)
		if err != nil {
			return nil, err
		}
		return &SessionStateStore{
			store:   store,
			signer:  signer,
			ttl:     cfg.Dance.TTL,
			cookies: opts,
			logger:  logger,
		}, nil
	case StateModeCookies:
		logger.Warn("dance state carried in plain cookies; client secrets will be exposed to the browser")
		return &CookieStateStore{cookies: opts}, nil
	default:
		return nil, fmt.Errorf("unknown dance state mode %q", cfg.Dance.StateMode)
	}
}

// SessionStateStore keeps DanceState server-side behind a single signed
// cookie holding an opaque session id.
type SessionStateStore struct {
	store   *InMemoryStore
	signer  *cookieSigner
	ttl     time.Duration
	cookies cookieOptions
	logger  *slog.Logger
}

// Save implements DanceStateStore.
func (s *SessionStateStore) Save(w http.ResponseWriter, r *http.Request, state DanceState) error {
	now := time.Now()
	sess := danceSession{
		ID:        s.store.NewID(),
		State:     state,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	token, err := s.signer.Sign(sess.ID, sess.ExpiresAt)
	if err != nil {
		return err
	}
	s.store.SaveDance(sess)
	s.cookies.set(w, danceCookieName, token, int(s.ttl.Seconds()))
	return nil
}

// Load implements DanceStateStore. The session is consumed.
func (s *SessionStateStore) Load(r *http.Request) DanceState {
	cookie, err := r.Cookie(danceCookieName)
	if err != nil {
		return DanceState{}
	}
	id, err := s.signer.Verify(cookie.Value)
	if err != nil {
		s.logger.Debug("dance cookie rejected", "error", err)
		return DanceState{}
	}
	sess, ok := s.store.ConsumeDance(id)
	if !ok {
		return DanceState{}
	}
	return sess.State
}

// Clear implements DanceStateStore.
func (s *SessionStateStore) Clear(w http.ResponseWriter, r *http.Request) {
	s.cookies.clear(w, danceCookieName)
}

// CookieStateStore round-trips DanceState through four browser cookies, the
// wire format older front-ends rely on.
type CookieStateStore struct {
	cookies cookieOptions
}

// Save implements DanceStateStore.
func (s *CookieStateStore) Save(w http.ResponseWriter, r *http.Request, state DanceState) error {
	s.cookies.set(w, csrfCookieName, state.CSRFToken, 0)
	s.cookies.set(w, clientIDCookieName, state.ClientID, 0)
	s.cookies.set(w, clientSecretCookieName, state.ClientSecret, 0)
	s.cookies.set(w, providerCookieName, state.Provider, 0)
	return nil
}

// Load implements DanceStateStore.
func (s *CookieStateStore) Load(r *http.Request) DanceState {
	return DanceState{
		CSRFToken:    cookieValue(r, csrfCookieName),
		ClientID:     cookieValue(r, clientIDCookieName),
		ClientSecret: cookieValue(r, clientSecretCookieName),
		Provider:     cookieValue(r, providerCookieName),
	}
}

// Clear implements DanceStateStore.
func (s *CookieStateStore) Clear(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{csrfCookieName, clientIDCookieName, clientSecretCookieName, providerCookieName} {
		s.cookies.clear(w, name)
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
