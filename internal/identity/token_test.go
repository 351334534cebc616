package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParse(t *testing.T) {
	tok, err := Issue("s3cret", "alice", time.Hour)
	require.NoError(t, err)

	id, err := Parse("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestParse_Rejects(t *testing.T) {
	tok, err := Issue("s3cret", "alice", time.Hour)
	require.NoError(t, err)

	_, err = Parse("other", tok)
	assert.Error(t, err, "wrong secret")

	expired, err := Issue("s3cret", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = Parse("s3cret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = Parse("s3cret", "garbage")
	assert.Error(t, err)

	_, err = Issue("s3cret", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingUser)
}
