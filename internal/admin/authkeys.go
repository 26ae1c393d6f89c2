package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AuthKey is a pre-auth credential issued by the managed server. It is
// created and expired only through the admin channel and never mutated
// otherwise.
type AuthKey struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Tags       []string  `json:"aclTags,omitempty"`
	Reusable   bool      `json:"reusable"`
	Ephemeral  bool      `json:"ephemeral"`
	Used       bool      `json:"used"`
	CreatedAt  time.Time `json:"createdAt"`
	Expiration time.Time `json:"expiration"`
}

// Expired reports whether the key's expiry timestamp has passed.
func (k AuthKey) Expired(now time.Time) bool {
	return !k.Expiration.IsZero() && !k.Expiration.After(now)
}

// Client wraps the admin CLI for pre-auth key management.
type Client struct {
	runner Runner
	user   string
}

// NewClient creates an admin client acting as the given headscale user.
func NewClient(runner Runner, user string) *Client {
	if user == "" {
		user = "admin"
	}
	return &Client{runner: runner, user: user}
}

// CreateAuthKey issues a new pre-auth key. Tags get the server's required
// "tag:" prefix.
func (c *Client) CreateAuthKey(ctx context.Context, tags []string, expiry time.Duration, ephemeral, reusable bool) (*AuthKey, error) {
	prefixed := make([]string, 0, len(tags))
	for _, t := range tags {
		prefixed = append(prefixed, "tag:"+strings.TrimSpace(t))
	}

	args := []string{
		"preauthkey", "create",
		"--tags", strings.Join(prefixed, ","),
		"--expiration", expiry.String(),
	}
	if reusable {
		args = append(args, "--reusable")
	}
	if ephemeral {
		args = append(args, "--ephemeral")
	}
	args = append(args, "--user", c.user)

	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var key AuthKey
	if err := json.Unmarshal(out, &key); err != nil {
		return nil, fmt.Errorf("failed to decode created key: %w", err)
	}
	return &key, nil
}

// ExpireAuthKey expires a key by its key string.
func (c *Client) ExpireAuthKey(ctx context.Context, key string) error {
	_, err := c.runner.Run(ctx, "preauthkey", "expire", key, "--user", c.user)
	return err
}

// ListAuthKeys returns all pre-auth keys ordered by creation time.
func (c *Client) ListAuthKeys(ctx context.Context) ([]AuthKey, error) {
	out, err := c.runner.Run(ctx, "preauthkey", "list", "--user", c.user)
	if err != nil {
		return nil, err
	}

	var keys []AuthKey
	if err := json.Unmarshal(out, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode key list: %w", err)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// EnsureUser creates the admin user owning pre-auth keys. An already
// existing user is success.
func (c *Client) EnsureUser(ctx context.Context, name string) error {
	_, err := c.runner.Run(ctx, "user", "create", name)
	if err == nil {
		return nil
	}
	var cmdErr *CmdError
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "already exists") {
		return nil
	}
	return err
}
