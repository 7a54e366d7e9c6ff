package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerTable_ResolvesKnownToken(t *testing.T) {
	table := NewBearerTable(map[string]string{"secret-token": "alice"})

	p, err := table.Resolve("secret-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Display)
	assert.Equal(t, ServiceAccountID("alice"), p.ID)
}

func TestBearerTable_RejectsUnknownToken(t *testing.T) {
	table := NewBearerTable(map[string]string{"secret-token": "alice"})

	_, err := table.Resolve("wrong-token")
	assert.Error(t, err)
}

func TestBearerTable_RejectsEmptyCredential(t *testing.T) {
	table := NewBearerTable(map[string]string{"secret-token": "alice"})

	_, err := table.Resolve("   ")
	assert.Error(t, err)
}

func TestBearerTable_DoesNotRetainPlaintextTokens(t *testing.T) {
	table := NewBearerTable(map[string]string{"secret-token": "alice"})

	require.Len(t, table.entries, 1)
	assert.NotContains(t, string(table.entries[0].hash), "secret-token")
}
