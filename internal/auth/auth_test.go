package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2hunter2", hash)

	assert.True(t, ComparePassword(hash, "hunter2hunter2"))
	assert.False(t, ComparePassword(hash, "wrong"))
}

func TestJWTSignVerify(t *testing.T) {
	j := NewJWT("test-secret", time.Hour)

	token, err := j.Sign(42)
	require.NoError(t, err)

	uid, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), uid)
}

func TestJWTRejectsForeignToken(t *testing.T) {
	a := NewJWT("secret-a", time.Hour)
	b := NewJWT("secret-b", time.Hour)

	token, err := a.Sign(1)
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.Error(t, err)

	_, err = b.Verify("not-a-token")
	assert.Error(t, err)
}
