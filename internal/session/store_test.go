package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/narrative"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "", ttl), mr
}

// storeContract runs the same scenario against every Store implementation.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	created, err := store.Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StepBusinessMetrics, created.Step)

	loaded, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)

	results := calculator.Calculate(baselineInputs)
	updated, err := store.Update(ctx, created.ID,
		SetBusinessMetrics{Inputs: baselineInputs},
		SetContact{Contact: baselineContact},
		SetResults{CalculationID: "c1", Results: results, Profile: calculator.CategorizeStore(baselineInputs, results)},
	)
	require.NoError(t, err)
	assert.Equal(t, StepResults, updated.Step)

	loaded, err = store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 150000.0, loaded.Results.AnnualRevenueLost)
	assert.Equal(t, "ada@acme.co", loaded.Contact.Email)
	assert.False(t, loaded.UpdatedAt.Before(created.UpdatedAt))

	_, err = store.Update(ctx, created.ID, SetNarrative{CalculationID: "other", Analysis: &narrative.Analysis{Summary: "x"}})
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStepInvalid))

	loaded, err = store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, NarrativePending, loaded.NarrativeStatus, "a rejected action must not be saved")

	_, err = store.Update(ctx, created.ID,
		SetBusinessMetrics{Inputs: baselineInputs.WithChurnRate(20)},
		SetNarrative{CalculationID: "c1", Analysis: &narrative.Analysis{Summary: "x"}},
	)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStepInvalid))

	loaded, err = store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, loaded.Inputs.ChurnRate, "a failed batch must not be partly saved")
	assert.Equal(t, "c1", loaded.CalculationID)

	require.NoError(t, store.Delete(ctx, created.ID))

	_, err = store.Load(ctx, created.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
	_, err = store.Update(ctx, created.ID, Reset{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
	assert.True(t, errors.HasCode(store.Delete(ctx, created.ID), errors.ErrCodeSessionNotFound))

	assert.NoError(t, store.Ping(ctx))
}

// ==========================
// Memory store
// ==========================

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	s, err := store.Create(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(context.Background(), s.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	s, err := store.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, s.ID, SetBusinessMetrics{Inputs: baselineInputs})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StepContact, loaded.Step)
}

// ==========================
// Redis store
// ==========================

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newMiniredisStore(t, time.Hour)
	storeContract(t, store)
}

func TestRedisStore_KeyAndTTL(t *testing.T) {
	store, mr := newMiniredisStore(t, 30*time.Minute)

	s, err := store.Create(context.Background())
	require.NoError(t, err)

	key := "churncalc:session:" + s.ID
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	raw, err := mr.Get(key)
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "business-metrics", stored["step"])

	mr.FastForward(31 * time.Minute)
	_, err = store.Load(context.Background(), s.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
}

func TestRedisStore_UpdateRefreshesTTL(t *testing.T) {
	store, mr := newMiniredisStore(t, 30*time.Minute)
	s, err := store.Create(context.Background())
	require.NoError(t, err)

	mr.FastForward(20 * time.Minute)
	_, err = store.Update(context.Background(), s.ID, SetBusinessMetrics{Inputs: baselineInputs})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, mr.TTL("churncalc:session:"+s.ID))
}

func TestRedisStore_ConcurrentUpdates(t *testing.T) {
	store, _ := newMiniredisStore(t, time.Hour)
	ctx := context.Background()

	s, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = store.Update(ctx, s.ID, SetBusinessMetrics{Inputs: baselineInputs}, SetContact{Contact: baselineContact})
	require.NoError(t, err)

	results := calculator.Calculate(baselineInputs)
	_, err = store.Update(ctx, s.ID, SetResults{CalculationID: "c1", Results: results, Profile: calculator.CategorizeStore(baselineInputs, results)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := store.Update(ctx, s.ID, SetNarrative{CalculationID: "c1", Analysis: &narrative.Analysis{Headline: "H", Summary: "S"}})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := store.Update(ctx, s.ID, MarkLeadSynced{CalculationID: "c1"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, NarrativeReady, loaded.NarrativeStatus)
	assert.True(t, loaded.LeadSynced)
}

func TestRedisStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("load failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("churncalc:session:s1").SetErr(assert.AnError)

		_, err := NewRedisStore(client, "", time.Hour).Load(ctx, "s1")
		assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStoreFailed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt value", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("churncalc:session:s1").SetVal("{not json")

		_, err := NewRedisStore(client, "", time.Hour).Load(ctx, "s1")
		assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStoreFailed))
	})

	t.Run("missing key", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectGet("custom:s1").RedisNil()

		_, err := NewRedisStore(client, "custom:", time.Hour).Load(ctx, "s1")
		assert.True(t, errors.HasCode(err, errors.ErrCodeSessionNotFound))
	})

	t.Run("delete failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectDel("churncalc:session:s1").SetErr(assert.AnError)

		err := NewRedisStore(client, "", time.Hour).Delete(ctx, "s1")
		assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStoreFailed))
	})

	t.Run("ping failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectPing().SetErr(assert.AnError)

		err := NewRedisStore(client, "", time.Hour).Ping(ctx)
		assert.True(t, errors.HasCode(err, errors.ErrCodeSessionStoreFailed))
	})
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(config.SessionConfig{Backend: config.SessionBackendMemory, TTL: 1000}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewStore(config.SessionConfig{Backend: config.SessionBackendRedis}, nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	store, err = NewStore(config.SessionConfig{Backend: config.SessionBackendRedis}, client)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)

	_, err = NewStore(config.SessionConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
}
