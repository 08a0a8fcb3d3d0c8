package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"meodance/httpclient"
)

var tracer = otel.Tracer("meodance/server")

// TokenExchanger performs the provider-facing half of the dance.
type TokenExchanger interface {
	AuthCodeURL(p Provider, clientID, redirectURI, state string) string
	Exchange(ctx context.Context, p Provider, creds Credentials, redirectURI, code string) (TokenResult, error)
}

// OAuth2Exchanger talks to providers with golang.org/x/oauth2 over a client
// that normalizes legacy JSON media types.
type OAuth2Exchanger struct {
	client *http.Client
	logger *slog.Logger
}

// NewOAuth2Exchanger wraps client with the legacy media-type filter.
func NewOAuth2Exchanger(client *http.Client, logger *slog.Logger) *OAuth2Exchanger {
	return &OAuth2Exchanger{client: httpclient.Wrap(client), logger: logger}
}

func oauthConfig(p Provider, creds Credentials, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthorizeURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL builds the authorize redirect carrying client_id, redirect_uri,
// response_type=code and state.
func (e *OAuth2Exchanger) AuthCodeURL(p Provider, clientID, redirectURI, state string) string {
	return oauthConfig(p, Credentials{ClientID: clientID}, redirectURI).AuthCodeURL(state)
}

// Exchange trades code for an access token. A provider rejection comes back
// as *ProviderTokenError; anything else is a transport or decoding failure.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, p Provider, creds Credentials, redirectURI, code string) (TokenResult, error) {
	ctx, span := tracer.Start(ctx, "oauth2.Exchange")
	span.SetAttributes(attribute.String("oauth2.provider", p.Name))
	defer span.End()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := oauthConfig(p, creds, redirectURI).Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return TokenResult{}, newProviderTokenError(retrieveErr)
		}
		return TokenResult{}, fmt.Errorf("exchange code with %s: %w", p.Name, err)
	}

	if uid, ok := tok.Extra("uid").(string); ok && uid != "" {
		e.logger.Debug("dance.exchange", "provider", p.Name, "uid", uid)
	}

	return TokenResult{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenType:    tok.TokenType,
		AccessToken:  tok.AccessToken,
	}, nil
}

func newProviderTokenError(re *oauth2.RetrieveError) *ProviderTokenError {
	out := &ProviderTokenError{
		StatusCode: re.Response.StatusCode,
		Body:       re.Body,
	}
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(re.Body, &body); err == nil {
		out.ErrorCode = body.Error
		out.ErrorDescription = body.ErrorDescription
	}
	return out
}
