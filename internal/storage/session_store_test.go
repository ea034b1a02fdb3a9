package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cardauth/internal/errors"
	"cardauth/internal/shared/testutil"
)

type staticDevice struct {
	id    string
	calls int
}

func (s *staticDevice) Generate() string {
	s.calls++
	return s.id
}

type failingKV struct{ *MemoryStore }

func (f *failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	hb := int64(1700000100)

	rec := Record{
		Authenticated: true,
		CardNumber:    "abc3b65KDZ9Qb7UC685D2MVFR0TPc53BCU1IPD5ad20",
		ExpiresAt:     "2030-01-01 00:00:00",
		ExpiresTs:     1893456000,
		CardType:      "month",
		LastHeartbeat: &hb,
	}
	require.NoError(t, NewSessionStore(kv, &staticDevice{id: "dev_x"}, nil).Save(ctx, rec))

	got, err := NewSessionStore(kv, &staticDevice{id: "dev_x"}, nil).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)
}

func TestSessionStoreRecordFieldNames(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	store := NewSessionStore(kv, &staticDevice{id: "dev_x"}, nil)

	require.NoError(t, store.Save(ctx, Record{Authenticated: true, CardNumber: "c", ExpiresTs: 5, CardType: "day", ExpiresAt: "x"}))

	raw, ok, err := kv.Get(ctx, KeySession)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"isAuthenticated":true,"cardNumber":"c","expiresAt":"x","expiresTs":5,"cardType":"day","lastHeartbeat":null}`, raw)
}

func TestSessionStoreLoadEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	store := NewSessionStore(kv, &staticDevice{id: "dev_x"}, nil)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, kv.Set(ctx, KeySession, "  "))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStoreCorruptRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(t)
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(ctx, KeySession, "{broken"))

	store := NewSessionStore(kv, &staticDevice{id: "dev_x"}, logger)
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, ok, err := kv.Get(ctx, KeySession)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt record must be removed")
	assert.True(t, logs.ContainsMessage("discarding corrupt session record"))
	assert.True(t, logs.ContainsAttr("component", "session_store"))
}

func TestSessionStoreReadFailure(t *testing.T) {
	store := NewSessionStore(&failingKV{MemoryStore: NewMemoryStore()}, &staticDevice{id: "dev_x"}, nil)

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
}

func TestSessionStoreClearKeepsDeviceID(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	store := NewSessionStore(kv, &staticDevice{id: "dev_keep"}, nil)

	id, err := store.DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, Record{Authenticated: true, CardNumber: "c"}))
	require.NoError(t, store.Clear(ctx))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	again, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSessionStoreDeviceIDGeneratedOnce(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	dev := &staticDevice{id: "dev_0123456789abcdef0123"}
	store := NewSessionStore(kv, dev, nil)

	first, err := store.DeviceID(ctx)
	require.NoError(t, err)
	second, err := store.DeviceID(ctx)
	require.NoError(t, err)

	assert.Equal(t, "dev_0123456789abcdef0123", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, dev.calls)

	stored, ok, err := kv.Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, stored)
}

func TestSessionStoreDeviceIDFromExistingValue(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(ctx, KeyDeviceID, "123"))
	dev := &staticDevice{id: "unused"}

	id, err := NewSessionStore(kv, dev, nil).DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123", id)
	assert.Zero(t, dev.calls)
}

func TestSessionStoreDeviceIDEmptyGenerator(t *testing.T) {
	_, err := NewSessionStore(NewMemoryStore(), &staticDevice{}, nil).DeviceID(context.Background())
	assert.Error(t, err)
}
