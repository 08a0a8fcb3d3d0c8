package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cookieOptions carries the attributes shared by every dance cookie.
type cookieOptions struct {
	domain string
	secure bool
}

func newCookieOptions(cfg Config) cookieOptions {
	return cookieOptions{
		domain: cfg.Server.CookieDomain,
		secure: !cfg.Server.DevMode,
	}
}

// set writes a browser-session cookie. SameSite=Lax lets it ride along on the
// provider's top-level redirect back to /callback.
func (o cookieOptions) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.domain,
		HttpOnly: true,
		Secure:   o.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (o cookieOptions) clear(w http.ResponseWriter, name string) {
	o.set(w, name, "", -1)
}

// cookieSigner signs dance session ids so forged or altered cookies are
// rejected before the store is consulted.
type cookieSigner struct {
	key []byte
	now func() time.Time
}

func newCookieSigner(secret string) (*cookieSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate cookie key: %w", err)
		}
	}
	return &cookieSigner{key: key, now: time.Now}, nil
}

func (s *cookieSigner) Sign(id string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign dance cookie: %w", err)
	}
	return signed, nil
}

func (s *cookieSigner) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("verify dance cookie: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("verify dance cookie: missing id")
	}
	return claims.ID, nil
}
