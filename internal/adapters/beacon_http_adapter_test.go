package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

func TestDecodeLiveness(t *testing.T) {
	got := decodeLiveness([]*apiv1.ValidatorLiveness{
		{Index: 1, IsLive: true},
		nil,
		{Index: 7, IsLive: false},
	})
	assert.Equal(t, map[domain.ValidatorIndex]bool{1: true, 7: false}, got)
}

func TestDecodeRewards(t *testing.T) {
	got := decodeRewards(&apiv1.AttestationRewards{
		IdealRewards: []apiv1.IdealAttestationRewards{
			{EffectiveBalance: 32_000_000_000, Head: 2000, Target: 5000, Source: 3000},
		},
		TotalRewards: []apiv1.ValidatorAttestationRewards{
			{ValidatorIndex: 4, Head: 0, Target: -5000, Source: 3000},
		},
	})

	assert.Equal(t, domain.AttestationReward{Source: 3000, Target: 5000, Head: 2000}, got.Ideal[32_000_000_000])
	assert.Equal(t, domain.AttestationReward{Source: 3000, Target: -5000, Head: 0}, got.Total[4])
	assert.Equal(t, int64(-2000), got.Total[4].Total())
}

func TestToAPIIndices(t *testing.T) {
	assert.Empty(t, toAPIIndices(nil))
	got := toAPIIndices([]domain.ValidatorIndex{3, 9})
	require.Len(t, got, 2)
	assert.EqualValues(t, 3, got[0])
	assert.EqualValues(t, 9, got[1])
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&api.Error{StatusCode: 404}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &api.Error{StatusCode: 404})))
	assert.False(t, isNotFound(&api.Error{StatusCode: 503}))
	assert.False(t, isNotFound(context.DeadlineExceeded))
}

func TestWithRetry(t *testing.T) {
	b := &beaconHTTPClient{retries: 2, log: zerolog.Nop()}

	calls := 0
	v, err := withRetry(context.Background(), b, "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &api.Error{StatusCode: 503}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(context.Background(), b, "test", func() (int, error) {
		calls++
		return 0, &api.Error{StatusCode: 404}
	})
	assert.True(t, isNotFound(err))
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = withRetry(context.Background(), b, "test", func() (int, error) {
		calls++
		return 0, &api.Error{StatusCode: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b := &beaconHTTPClient{retries: 100, log: zerolog.Nop()}

	start := time.Now()
	_, err := withRetry(ctx, b, "test", func() (int, error) {
		return 0, &api.Error{StatusCode: 500}
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
