package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ErrGoogleNotConfigured is returned when no OAuth client id is set.
var ErrGoogleNotConfigured = errors.New("google sign-in not configured")

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Email string
	Name  string
}

// GoogleVerifier validates Google ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, credential string) (*GoogleIdentity, error)
}

// IDTokenVerifier checks tokens against Google's published keys for one client id.
type IDTokenVerifier struct {
	clientID string
}

// NewIDTokenVerifier creates a verifier for clientID.
func NewIDTokenVerifier(clientID string) *IDTokenVerifier {
	return &IDTokenVerifier{clientID: clientID}
}

// Verify validates credential and returns its verified email.
func (v *IDTokenVerifier) Verify(ctx context.Context, credential string) (*GoogleIdentity, error) {
	if v.clientID == "" {
		return nil, ErrGoogleNotConfigured
	}
	payload, err := idtoken.Validate(ctx, credential, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("validate id token: %w", err)
	}
	email, ok := payload.Claims["email"].(string)
	if !ok || email == "" {
		return nil, errors.New("email not found in claims")
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, errors.New("email not verified")
	}
	name, _ := payload.Claims["name"].(string)
	return &GoogleIdentity{Email: email, Name: name}, nil
}
