package services

import (
	"github.com/matchwise/location-agent/pkg/jwt"
)

// SessionGate reports whether an authenticated session currently exists.
// The tracker holds the location engine back until the gate opens.
type SessionGate interface {
	Authenticated() bool
}

// JWTSessionGate gates on the presence of a valid, unexpired session token.
type JWTSessionGate struct {
	jwtManager jwt.JWTManagerInterface
}

// NewJWTSessionGate creates a gate backed by the given JWT manager.
func NewJWTSessionGate(jwtManager jwt.JWTManagerInterface) *JWTSessionGate {
	return &JWTSessionGate{jwtManager: jwtManager}
}

// Authenticated reports whether a valid session token exists.
func (g *JWTSessionGate) Authenticated() bool {
	return g.jwtManager.GetJWT() != ""
}
