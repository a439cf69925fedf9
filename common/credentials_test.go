package common_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bakehouse/backoffice/common"
)

func exerciseCredentialStore(t *testing.T, store common.CredentialStore) {
	ctx := context.Background()

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok, "empty store loads nothing")

	require.NoError(t, store.Save(ctx, &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}))
	tok, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	require.NoError(t, store.Save(ctx, &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2"}))
	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)

	assert.Error(t, store.Save(ctx, nil))

	require.NoError(t, store.Clear(ctx))
	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestMemoryCredentialStore(t *testing.T) {
	exerciseCredentialStore(t, common.NewMemoryCredentialStore())
}

// Needs a running Redis; set BACKOFFICE_TEST_REDIS_ADDR to run it.
func TestRedisCredentialStore(t *testing.T) {
	addr := os.Getenv("BACKOFFICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BACKOFFICE_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := common.NewRedisCredentialStore(ctx, common.RedisOptions{
		Addr:      addr,
		KeyPrefix: "backoffice:test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	defer store.Close()

	exerciseCredentialStore(t, store)
}

func TestNewRedisCredentialStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := common.NewRedisCredentialStore(ctx, common.RedisOptions{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
