package referrals

import (
	"context"
	"sync"
	"testing"

	"github.com/lira-dao/staking-sidecar/internal/tests/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	walletA = "0x000000000000000000000000000000000000000a"
	walletB = "0x000000000000000000000000000000000000000b"
	walletC = "0x000000000000000000000000000000000000000c"
	walletD = "0x000000000000000000000000000000000000000d"
	walletE = "0x000000000000000000000000000000000000000e"
)

func setup(t *testing.T) *Resolver {
	l := zap.NewNop()
	grm, err := sqlite.GetInMemorySqliteDatabaseConnection(l)
	require.Nil(t, err)
	return NewResolver(grm, l)
}

func link(t *testing.T, r *Resolver, referrer, referral string) {
	inserted, err := r.LinkReferral(context.Background(), referrer, referral)
	require.Nil(t, err)
	require.True(t, inserted)
}

func Test_ResolveLineage(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return an empty lineage for a wallet without referrer", func(t *testing.T) {
		r := setup(t)

		lineage, err := r.ResolveLineage(ctx, walletA)
		require.Nil(t, err)
		assert.Nil(t, lineage.Level1)
		assert.Equal(t, 0, lineage.Depth())
	})
	t.Run("Should stop at the first missing referrer", func(t *testing.T) {
		r := setup(t)
		link(t, r, walletA, walletB)
		link(t, r, walletB, walletC)

		lineage, err := r.ResolveLineage(ctx, walletC)
		require.Nil(t, err)
		require.NotNil(t, lineage.Level1)
		require.NotNil(t, lineage.Level2)
		assert.Equal(t, walletB, *lineage.Level1)
		assert.Equal(t, walletA, *lineage.Level2)
		assert.Nil(t, lineage.Level3)
		assert.Equal(t, 2, lineage.Depth())
	})
	t.Run("Should never walk past three levels", func(t *testing.T) {
		r := setup(t)
		link(t, r, walletA, walletB)
		link(t, r, walletB, walletC)
		link(t, r, walletC, walletD)
		link(t, r, walletD, walletE)

		lineage, err := r.ResolveLineage(ctx, walletE)
		require.Nil(t, err)
		assert.Equal(t, 3, lineage.Depth())
		assert.Equal(t, walletD, *lineage.Level1)
		assert.Equal(t, walletC, *lineage.Level2)
		assert.Equal(t, walletB, *lineage.Level3)
	})
	t.Run("Should match addresses case-insensitively", func(t *testing.T) {
		r := setup(t)
		link(t, r, "0x000000000000000000000000000000000000000A", walletB)

		lineage, err := r.ResolveLineage(ctx, "0x000000000000000000000000000000000000000B")
		require.Nil(t, err)
		require.NotNil(t, lineage.Level1)
		assert.Equal(t, walletA, *lineage.Level1)
	})
	t.Run("Should be safe to resolve concurrently", func(t *testing.T) {
		r := setup(t)
		link(t, r, walletA, walletB)
		link(t, r, walletB, walletC)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lineage, err := r.ResolveLineage(ctx, walletC)
				assert.Nil(t, err)
				assert.Equal(t, 2, lineage.Depth())
			}()
		}
		wg.Wait()
	})
}

func Test_LinkReferral(t *testing.T) {
	ctx := context.Background()

	t.Run("Should keep the first referrer of a wallet", func(t *testing.T) {
		r := setup(t)
		link(t, r, walletA, walletB)

		inserted, err := r.LinkReferral(ctx, walletC, walletB)
		require.Nil(t, err)
		assert.False(t, inserted)

		referrer, ok, err := r.GetReferrer(ctx, walletB)
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, walletA, referrer)
	})
	t.Run("Should reject self referrals", func(t *testing.T) {
		r := setup(t)

		_, err := r.LinkReferral(ctx, walletA, walletA)
		assert.ErrorIs(t, err, ErrSelfReferral)
	})
	t.Run("Should reject edges that close a cycle", func(t *testing.T) {
		r := setup(t)
		link(t, r, walletA, walletB)
		link(t, r, walletB, walletC)

		_, err := r.LinkReferral(ctx, walletC, walletA)
		assert.ErrorIs(t, err, ErrCycle)
	})
	t.Run("Should reject invalid addresses", func(t *testing.T) {
		r := setup(t)

		_, err := r.LinkReferral(ctx, "nope", walletA)
		assert.NotNil(t, err)
	})
}
