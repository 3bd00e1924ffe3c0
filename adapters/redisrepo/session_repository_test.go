package redisrepo

import (
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoyack/archon72-sub000/deliberation"
)

func TestIsPermanentCASError(t *testing.T) {
	assert.True(t, isPermanentCASError(errors.New("NOTFOUND session missing")))
	assert.True(t, isPermanentCASError(errors.New("CONFLICT version mismatch")))
	assert.False(t, isPermanentCASError(errors.New("connection reset by peer")))
}

func TestMapCASError(t *testing.T) {
	notFound := mapCASError(errors.New("NOTFOUND session missing"), "session-1")
	var target *deliberation.SessionNotFoundError
	require.ErrorAs(t, notFound, &target)
	assert.Equal(t, "session-1", target.SessionID)

	conflict := mapCASError(errors.New("CONFLICT version mismatch"), "session-1")
	assert.Contains(t, conflict.Error(), "version conflict")

	other := errors.New("ECONNRESET")
	assert.Equal(t, other, mapCASError(other, "session-1"))
}

func TestUnwrapPermanent(t *testing.T) {
	inner := errors.New("boom")
	wrapped := backoff.Permanent(inner)
	unwrapped := unwrapPermanent(wrapped)
	require.NotNil(t, unwrapped)
	assert.Equal(t, inner, unwrapped)

	assert.Nil(t, unwrapPermanent(errors.New("not permanent")))
}
