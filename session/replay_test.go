package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/whisperlink/crypto"
)

func TestHandshakeGuardRejectsDuplicates(t *testing.T) {
	g := NewHandshakeGuard()

	salt, err := crypto.GenerateSalt()
	require.NoError(t, err)

	assert.True(t, g.CheckAndStore(salt))
	assert.False(t, g.CheckAndStore(salt))
	assert.Equal(t, 1, g.Len())
}

func TestHandshakeGuardExpiry(t *testing.T) {
	g := NewHandshakeGuardWithLimits(10*time.Millisecond, 0)

	salt, err := crypto.GenerateSalt()
	require.NoError(t, err)
	require.True(t, g.CheckAndStore(salt))

	time.Sleep(20 * time.Millisecond)

	// Past the TTL the salt is forgotten and accepted again.
	assert.True(t, g.CheckAndStore(salt))
}

func TestHandshakeGuardCapacity(t *testing.T) {
	g := NewHandshakeGuardWithLimits(0, 8)

	for i := 0; i < 16; i++ {
		salt, err := crypto.GenerateSalt()
		require.NoError(t, err)
		require.True(t, g.CheckAndStore(salt))
	}

	assert.LessOrEqual(t, g.Len(), 8)
}
