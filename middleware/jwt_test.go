package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

func TestGenerateToken_Valid(t *testing.T) {
	tok, jti, err := GenerateToken(42, "enqueteur", testSecret, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Len(t, jti, 36)
}

func TestParseToken_Valid(t *testing.T) {
	tok, jti, err := GenerateToken(99, "administrateur", testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(99), claims.UserID)
	assert.Equal(t, "administrateur", claims.Role)
	assert.Equal(t, jti, claims.ID)
}

func TestParseToken_WrongSecret(t *testing.T) {
	tok, _, err := GenerateToken(1, "analyste", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, "wrong-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tok, _, err := GenerateToken(1, "analyste", testSecret, -time.Second)
	require.NoError(t, err)

	_, err = ParseToken(tok, testSecret)
	assert.Error(t, err)
}

func TestParseToken_Malformed(t *testing.T) {
	_, err := ParseToken("not.a.jwt", testSecret)
	assert.Error(t, err)
}

func TestParseToken_Empty(t *testing.T) {
	_, err := ParseToken("", testSecret)
	assert.Error(t, err)
}

func TestGenerateToken_DistinctSessions(t *testing.T) {
	t1, j1, _ := GenerateToken(1, "enqueteur", testSecret, time.Hour)
	t2, j2, _ := GenerateToken(1, "enqueteur", testSecret, time.Hour)
	assert.NotEqual(t, t1, t2)
	assert.NotEqual(t, j1, j2)

	c1, _ := ParseToken(t1, testSecret)
	c2, _ := ParseToken(t2, testSecret)
	assert.Equal(t, j1, c1.ID)
	assert.Equal(t, j2, c2.ID)
}

func TestReissueToken_KeepsSession(t *testing.T) {
	tok, jti, err := GenerateToken(5, "technicien", testSecret, time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)

	fresh, err := ReissueToken(claims, testSecret, time.Hour)
	require.NoError(t, err)
	again, err := ParseToken(fresh, testSecret)
	require.NoError(t, err)
	assert.Equal(t, jti, again.ID)
	assert.Equal(t, int64(5), again.UserID)
	assert.True(t, again.ExpiresAt.After(claims.ExpiresAt.Time))
}
