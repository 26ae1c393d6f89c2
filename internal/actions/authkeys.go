package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nettics/hswarden/internal/admin"
)

// Action names exposed on the imperative surface.
const (
	ActionCreateAuthKey = "create-authkey"
	ActionExpireAuthKey = "expire-authkey"
	ActionListAuthKeys  = "list-authkeys"
)

// DefaultAuthKeyExpiry applies when the caller omits expiry.
const DefaultAuthKeyExpiry = time.Hour

// KeyClient is the slice of the admin client the auth-key actions need.
type KeyClient interface {
	CreateAuthKey(ctx context.Context, tags []string, expiry time.Duration, ephemeral, reusable bool) (*admin.AuthKey, error)
	ExpireAuthKey(ctx context.Context, key string) error
	ListAuthKeys(ctx context.Context) ([]admin.AuthKey, error)
}

// RegisterAuthKeyActions wires the three pre-auth key actions into the registry.
func RegisterAuthKeyActions(registry *Registry, client KeyClient) error {
	for _, a := range []Action{
		&createAuthKey{client: client},
		&expireAuthKey{client: client},
		&listAuthKeys{client: client},
	} {
		if err := registry.Register(a); err != nil {
			return err
		}
	}
	return nil
}

type createAuthKey struct {
	client KeyClient
}

func (a *createAuthKey) Name() string { return ActionCreateAuthKey }

func (a *createAuthKey) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	tagsArg, _ := args["tags"].(string)
	tags := splitTags(tagsArg)
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: tags is required and must be non-empty", ErrInvalidArgument)
	}

	expiry := DefaultAuthKeyExpiry
	if raw, ok := args["expiry"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expiry must be a duration string", ErrInvalidDuration)
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		expiry = parsed
	}

	ephemeral := boolArg(args, "ephemeral")
	reusable := boolArg(args, "reusable")

	key, err := a.client.CreateAuthKey(ctx, tags, expiry, ephemeral, reusable)
	if err != nil {
		return nil, err
	}

	return &Result{
		Success: true,
		Payload: map[string]any{"authkey": key},
	}, nil
}

type expireAuthKey struct {
	client KeyClient
}

func (a *expireAuthKey) Name() string { return ActionExpireAuthKey }

// Execute resolves the key against the list first: an unknown key is
// NotFound and an already-expired key is a successful no-op. The CLI exit
// codes alone are not trusted to distinguish the two.
func (a *expireAuthKey) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	ref, _ := args["authkey"].(string)
	if ref == "" {
		return nil, fmt.Errorf("%w: authkey is required", ErrInvalidArgument)
	}

	keys, err := a.client.ListAuthKeys(ctx)
	if err != nil {
		return nil, err
	}

	var match *admin.AuthKey
	for i := range keys {
		if keys[i].ID == ref || keys[i].Key == ref {
			match = &keys[i]
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: authkey %q", ErrNotFound, ref)
	}

	if match.Expired(time.Now()) {
		return &Result{
			Success: true,
			Message: "authkey already expired",
			Payload: map[string]any{"authkey": match},
		}, nil
	}

	if err := a.client.ExpireAuthKey(ctx, match.Key); err != nil {
		return nil, err
	}

	return &Result{
		Success: true,
		Message: "authkey expired",
		Payload: map[string]any{"id": match.ID},
	}, nil
}

type listAuthKeys struct {
	client KeyClient
}

func (a *listAuthKeys) Name() string { return ActionListAuthKeys }

func (a *listAuthKeys) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	keys, err := a.client.ListAuthKeys(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Success: true,
		Payload: map[string]any{"authkeys": keys},
	}, nil
}

// splitTags parses the comma-separated tags argument, dropping empties.
func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func boolArg(args map[string]any, name string) bool {
	v, _ := args[name].(bool)
	return v
}
