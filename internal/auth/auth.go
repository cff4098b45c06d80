// Package auth owns token validation for the bridge handshake.
//
// Ownership boundary:
// - the Validator seam the backend applies to authenticate envelopes
// - a constant-time shared-token implementation
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks one presented token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty stored token
// denies everything rather than acting as a wildcard.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
