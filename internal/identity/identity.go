// Package identity is the boundary to the identity provider. The client only
// ever consumes a freshly minted bearer credential per connection attempt;
// refresh and issuance live on the other side of this interface.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when a source only has an expired credential.
var ErrTokenExpired = errors.New("bearer token expired")

// TokenSource yields a bearer credential for one connection or request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed credential, useful for tests and service accounts.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty bearer token")
	}
	return string(s), nil
}

// File re-reads a token file on every call so an external refresher can rotate
// it. When the content parses as a JWT, an expired exp claim is rejected here
// rather than by a failed handshake later; signature verification stays with
// the server.
type File struct {
	Path string
	now  func() time.Time
}

// NewFile creates a file-backed token source.
func NewFile(path string) *File {
	return &File{Path: path, now: time.Now}
}

func (f *File) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", errors.New("token file is empty")
	}

	if claims, ok := parseClaims(tok); ok {
		exp, err := claims.GetExpirationTime()
		if err == nil && exp != nil && exp.Time.Before(f.now()) {
			return "", ErrTokenExpired
		}
	}
	return tok, nil
}

func parseClaims(tok string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		// Not a JWT; treat as an opaque credential.
		return nil, false
	}
	return claims, true
}
