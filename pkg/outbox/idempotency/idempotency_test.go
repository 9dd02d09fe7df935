package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values map[string]any
	ttls   map[string]time.Duration
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	v, _ := f.values[key].(string)
	return v, nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "allocator:idem:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func TestScopeClaimsOncePerEvent(t *testing.T) {
	store := newFakeStore()
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	scope, err := m.Scope("reoptimize")
	require.NoError(t, err)

	id := uuid.New()
	first, err := scope.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first)

	key := "allocator:idem:evt:reoptimize:" + id.String()
	assert.Contains(t, store.values, key)
	assert.Equal(t, time.Hour, store.ttls[key])

	again, err := scope.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, scope.Release(context.Background(), id))
	reclaimed, err := scope.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestScopesAreIsolated(t *testing.T) {
	m, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)
	first, _ := m.Scope("reoptimize")
	second, _ := m.Scope("audit")

	id := uuid.New()
	claimed, err := first.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = second.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimErrors(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("down")
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = m.Scope("  ")
	assert.ErrorIs(t, err, ErrConsumerRequired)

	scope, err := m.Scope("reoptimize")
	require.NoError(t, err)
	_, err = scope.Claim(context.Background(), uuid.New())
	assert.EqualError(t, err, "down")
	_, err = scope.Claim(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrEventIDRequired)
	assert.ErrorIs(t, scope.Release(context.Background(), uuid.Nil), ErrEventIDRequired)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newFakeStore(), 0)
	assert.Error(t, err)
}
