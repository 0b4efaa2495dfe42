package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollub/guardlink/internal/customer"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestTokenRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	_, err := st.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveAccessToken(ctx, "access-1"))
	require.NoError(t, st.SaveRefreshToken(ctx, "refresh-1"))

	access, err := st.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)

	refresh, err := st.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)

	// Overwrite replaces, never appends.
	require.NoError(t, st.SaveAccessToken(ctx, "access-2"))
	access, err = st.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", access)
}

func TestProfileRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	_, err := st.Profile(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := customer.Info{
		ID:                       7,
		Name:                     "Anna",
		Surname:                  "Kowalska",
		Phone:                    "+48123456789",
		ProtectionExpirationDate: "2025-12-31T23:59:59",
	}
	require.NoError(t, st.SaveProfile(ctx, want))

	got, err := st.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeviceIDIsStable(t *testing.T) {
	st, dir := openTestStore(t)
	ctx := context.Background()

	first, err := st.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := st.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Survives reopen.
	require.NoError(t, st.Close())
	st2, err := Open(ctx, dir)
	require.NoError(t, err)
	defer st2.Close()
	third, err := st2.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestClearKeepsDeviceID(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveAccessToken(ctx, "a"))
	require.NoError(t, st.SaveRefreshToken(ctx, "r"))
	require.NoError(t, st.SaveProfile(ctx, customer.Info{ID: 7}))
	id, err := st.DeviceID(ctx)
	require.NoError(t, err)

	require.NoError(t, st.Clear(ctx))

	_, err = st.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.RefreshToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Profile(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	after, err := st.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, after)
}

func TestDatabaseFilePermissions(t *testing.T) {
	_, dir := openTestStore(t)

	info, err := os.Stat(filepath.Join(dir, "credentials.db"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
