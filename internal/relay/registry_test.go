package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRegistryClaim(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	assert.NoError(t, reg.Claim(ctx, "alpha"))
	assert.ErrorIs(t, reg.Claim(ctx, "alpha"), ErrClaimed)
	assert.NoError(t, reg.Claim(ctx, "beta"))

	reg.Release(ctx, "alpha")
	assert.NoError(t, reg.Claim(ctx, "alpha"))

	// Refreshing a held claim never fails in memory.
	assert.NoError(t, reg.Refresh(ctx, "alpha"))
}
