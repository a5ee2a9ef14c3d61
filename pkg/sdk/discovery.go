package sdk

import (
	"context"
	"fmt"
	"os"
)

// Environment variables read by New.
const (
	EnvURL      = "CELERIX_EXPENSES_URL"
	EnvPassword = "CELERIX_EXPENSES_PASSWORD"
)

// DefaultURL is used when EnvURL is unset.
const DefaultURL = "http://localhost:7003"

// New connects to the daemon named by the environment and, when a password
// is available, logs in.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	addr := os.Getenv(EnvURL)
	if addr == "" {
		addr = DefaultURL
	}
	c, err := Connect(addr, opts...)
	if err != nil {
		return nil, err
	}

	if pw := os.Getenv(EnvPassword); pw != "" {
		if err := c.Login(ctx, pw); err != nil {
			return nil, fmt.Errorf("login to %s failed: %w", addr, err)
		}
	}
	return c, nil
}
