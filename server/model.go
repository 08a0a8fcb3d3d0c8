package server

import (
	"fmt"
	"time"
)

// Credentials are the OAuth client credentials supplied for one dance.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// DanceRequest is the body accepted by POST /dance.
type DanceRequest struct {
	Provider    string      `json:"provider"`
	Credentials Credentials `json:"credentials"`
}

// DanceState ties an initiate call to its callback. Empty fields mean the
// value did not come back with the callback request.
type DanceState struct {
	CSRFToken    string
	ClientID     string
	ClientSecret string
	Provider     string
}

// danceSession is the server-side record behind the dance cookie.
type danceSession struct {
	ID        string
	State     DanceState
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenResult is returned to the caller after a successful exchange.
type TokenResult struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TokenType    string `json:"tokenType"`
	AccessToken  string `json:"accessToken"`
}

// ProviderTokenError is a rejected code exchange.
type ProviderTokenError struct {
	StatusCode       int
	ErrorCode        string
	ErrorDescription string
	Body             []byte
}

func (e *ProviderTokenError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("token endpoint returned %d: %s: %s", e.StatusCode, e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.ErrorCode)
}

// providerErrorBody is what the caller receives on a rejected exchange.
type providerErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}
