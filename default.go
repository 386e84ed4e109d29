package edgeconfig

import (
	"context"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client configured from the environment
// (EDGE_CONFIG and friends). It is built on first successful use.
func Default() (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		return defaultClient, nil
	}
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	c, err := NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	defaultClient = c
	return c, nil
}

// Get reads key with the default client.
func Get(ctx context.Context, key string) (Value, error) {
	c, err := Default()
	if err != nil {
		return Value{}, err
	}
	return c.Get(ctx, key)
}

// Has checks key with the default client.
func Has(ctx context.Context, key string) (bool, error) {
	c, err := Default()
	if err != nil {
		return false, err
	}
	return c.Has(ctx, key)
}

// GetAll reads every item with the default client.
func GetAll(ctx context.Context) (Items, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.GetAll(ctx)
}

// GetMany reads keys with the default client.
func GetMany(ctx context.Context, keys []string) ([]Value, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.GetMany(ctx, keys)
}

// Digest reads the config digest with the default client.
func Digest(ctx context.Context) (string, error) {
	c, err := Default()
	if err != nil {
		return "", err
	}
	return c.Digest(ctx)
}
