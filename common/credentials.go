package common

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// CredentialStore persists the access and refresh credentials.
// Load returns (nil, nil) when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, token *oauth2.Token) error
	Clear(ctx context.Context) error
}

var (
	_ CredentialStore = (*MemoryCredentialStore)(nil)
	_ CredentialStore = (*RedisCredentialStore)(nil)
)

// MemoryCredentialStore keeps the credential pair in process memory.
type MemoryCredentialStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load(context.Context) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" && s.refreshToken == "" {
		return nil, nil
	}
	return &oauth2.Token{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		TokenType:    "Bearer",
	}, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token.AccessToken
	s.refreshToken = token.RefreshToken
	return nil
}

func (s *MemoryCredentialStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	return nil
}

const (
	defaultCredentialKeyPrefix = "backoffice:auth:"
	accessTokenKey             = "access_token"
	refreshTokenKey            = "refresh_token"
)

// RedisCredentialStore keeps the credential pair in Redis under two keys,
// so several client processes on one host can share a session.
type RedisCredentialStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions holds Redis connection settings.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisCredentialStore connects to Redis and checks the connection.
func NewRedisCredentialStore(ctx context.Context, opts RedisOptions) (*RedisCredentialStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCredentialStoreWithClient(client, opts.KeyPrefix), nil
}

// NewRedisCredentialStoreWithClient wraps an existing client.
func NewRedisCredentialStoreWithClient(client *redis.Client, keyPrefix string) *RedisCredentialStore {
	if keyPrefix == "" {
		keyPrefix = defaultCredentialKeyPrefix
	}
	return &RedisCredentialStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisCredentialStore) Load(ctx context.Context) (*oauth2.Token, error) {
	vals, err := s.client.MGet(ctx, s.keyPrefix+accessTokenKey, s.keyPrefix+refreshTokenKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if access == "" && refresh == "" {
		return nil, nil
	}
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}, nil
}

func (s *RedisCredentialStore) Save(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keyPrefix+accessTokenKey, token.AccessToken, 0)
		pipe.Set(ctx, s.keyPrefix+refreshTokenKey, token.RefreshToken, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keyPrefix+accessTokenKey, s.keyPrefix+refreshTokenKey).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisCredentialStore) Close() error {
	return s.client.Close()
}
