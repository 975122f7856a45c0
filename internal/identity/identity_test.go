package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	require.Error(t, err)
}

func writeToken(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ana",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestFile_OpaqueToken(t *testing.T) {
	path := writeToken(t, "  opaque-credential \n")
	src := NewFile(path)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-credential", tok)
}

func TestFile_RereadsOnEveryCall(t *testing.T) {
	path := writeToken(t, "first")
	src := NewFile(path)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	// An external refresher rotated the file.
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}

func TestFile_ValidJWT(t *testing.T) {
	raw := signedJWT(t, time.Now().Add(time.Hour))
	src := NewFile(writeToken(t, raw))

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, tok)
}

func TestFile_ExpiredJWT(t *testing.T) {
	raw := signedJWT(t, time.Now().Add(-time.Hour))
	src := NewFile(writeToken(t, raw))

	_, err := src.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestFile_MissingOrEmpty(t *testing.T) {
	src := NewFile(filepath.Join(t.TempDir(), "nope"))
	_, err := src.Token(context.Background())
	require.Error(t, err)

	src = NewFile(writeToken(t, "   \n"))
	_, err = src.Token(context.Background())
	require.Error(t, err)
}
