package chat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCapsRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRateCapsDailyCap(t *testing.T) {
	client, _ := setupCapsRedis(t)
	caps := NewRateCaps(client, 3, 10, nil)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	caps.now = func() time.Time { return at }

	ctx := context.Background()
	patientID, clinicianID := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		result, err := caps.Check(ctx, patientID, clinicianID)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "send %d should pass", i+1)
		caps.Consume(ctx, patientID, clinicianID)
	}

	result, err := caps.Check(ctx, patientID, clinicianID)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 14*time.Hour, result.RetryAfter, "retry at next UTC midnight")
}

func TestRateCapsDailyCapIsPerPair(t *testing.T) {
	client, _ := setupCapsRedis(t)
	caps := NewRateCaps(client, 2, 10, nil)

	ctx := context.Background()
	patientID := uuid.New()
	clinicianA, clinicianB := uuid.New(), uuid.New()

	caps.Consume(ctx, patientID, clinicianA)
	caps.Consume(ctx, patientID, clinicianA)

	result, err := caps.Check(ctx, patientID, clinicianA)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = caps.Check(ctx, patientID, clinicianB)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a different clinician has its own daily counter")
}

func TestRateCapsBurstCapIsPerPatient(t *testing.T) {
	client, _ := setupCapsRedis(t)
	caps := NewRateCaps(client, 50, 2, nil)
	at := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)
	caps.now = func() time.Time { return at }

	ctx := context.Background()
	patientID := uuid.New()
	clinicianA, clinicianB := uuid.New(), uuid.New()

	caps.Consume(ctx, patientID, clinicianA)
	caps.Consume(ctx, patientID, clinicianB)

	// Burst meters the patient across pairs, so a third clinician is capped.
	result, err := caps.Check(ctx, patientID, uuid.New())
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 30*time.Second, result.RetryAfter, "retry at the next minute boundary")
}

func TestRateCapsBurstWindowRolls(t *testing.T) {
	client, _ := setupCapsRedis(t)
	caps := NewRateCaps(client, 50, 1, nil)
	at := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)
	caps.now = func() time.Time { return at }

	ctx := context.Background()
	patientID, clinicianID := uuid.New(), uuid.New()

	caps.Consume(ctx, patientID, clinicianID)
	result, err := caps.Check(ctx, patientID, clinicianID)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	caps.now = func() time.Time { return at.Add(time.Minute) }
	result, err = caps.Check(ctx, patientID, clinicianID)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a new minute resets the burst counter")
}

func TestRateCapsCheckDoesNotConsume(t *testing.T) {
	client, _ := setupCapsRedis(t)
	caps := NewRateCaps(client, 1, 1, nil)

	ctx := context.Background()
	patientID, clinicianID := uuid.New(), uuid.New()

	for i := 0; i < 5; i++ {
		result, err := caps.Check(ctx, patientID, clinicianID)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "checks alone never burn quota")
	}
}

func TestRateCapsFailOpen(t *testing.T) {
	client, mr := setupCapsRedis(t)
	caps := NewRateCaps(client, 1, 1, nil)

	ctx := context.Background()
	mr.Close()

	result, err := caps.Check(ctx, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a Redis outage must not stop sends")
	assert.True(t, result.Degraded)
}
