package actions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nettics/hswarden/internal/admin"
)

// fakeRunner serves canned JSON per admin subcommand and records calls.
type fakeRunner struct {
	responses map[string][]byte
	calls     [][]string
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args[:2], " ")
	if out, ok := f.responses[key]; ok {
		return out, nil
	}
	return nil, &admin.CmdError{Args: args, ExitCode: 1, Stderr: "unexpected command"}
}

func (f *fakeRunner) callsFor(subcommand string) [][]string {
	var matched [][]string
	for _, call := range f.calls {
		if strings.Join(call[:2], " ") == subcommand {
			matched = append(matched, call)
		}
	}
	return matched
}

const createdKeyJSON = `{
	"id": "7",
	"key": "0123456789abcdef",
	"reusable": true,
	"ephemeral": false,
	"used": false,
	"aclTags": ["tag:ci"],
	"createdAt": "2026-08-24T10:00:00Z",
	"expiration": "2026-08-24T10:30:00Z"
}`

const keyListJSON = `[
	{
		"id": "2",
		"key": "expiredexpiredexpired",
		"reusable": false,
		"ephemeral": false,
		"used": true,
		"createdAt": "2026-01-02T00:00:00Z",
		"expiration": "2026-01-02T01:00:00Z"
	},
	{
		"id": "1",
		"key": "activeactiveactive",
		"reusable": true,
		"ephemeral": false,
		"used": false,
		"createdAt": "2026-01-01T00:00:00Z",
		"expiration": "2099-01-01T00:00:00Z"
	}
]`

func newTestRegistry(t *testing.T, runner *fakeRunner) *Registry {
	t.Helper()
	registry := NewRegistry()
	client := admin.NewClient(runner, "admin")
	if err := RegisterAuthKeyActions(registry, client); err != nil {
		t.Fatalf("failed to register actions: %v", err)
	}
	return registry
}

func execute(t *testing.T, registry *Registry, name string, args map[string]any) (*Result, error) {
	t.Helper()
	action, ok := registry.Get(name)
	if !ok {
		t.Fatalf("action %q not registered", name)
	}
	return action.Execute(context.Background(), args)
}

func TestCreateAuthKey(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]byte{
		"preauthkey create": []byte(createdKeyJSON),
	}}
	registry := newTestRegistry(t, runner)

	result, err := execute(t, registry, ActionCreateAuthKey, map[string]any{
		"tags":     "ci",
		"expiry":   "30m",
		"reusable": true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("create not successful: %s", result.Message)
	}

	key, ok := result.Payload["authkey"].(*admin.AuthKey)
	if !ok {
		t.Fatalf("payload authkey has type %T", result.Payload["authkey"])
	}
	if !key.Reusable {
		t.Error("created key not reusable")
	}
	if want := key.CreatedAt.Add(30 * time.Minute); !key.Expiration.Equal(want) {
		t.Errorf("expiration = %v, want %v", key.Expiration, want)
	}

	calls := runner.callsFor("preauthkey create")
	if len(calls) != 1 {
		t.Fatalf("create called %d times, want 1", len(calls))
	}
	args := strings.Join(calls[0], " ")
	for _, want := range []string{"--tags tag:ci", "--expiration 30m0s", "--reusable", "--user admin"} {
		if !strings.Contains(args, want) {
			t.Errorf("CLI args missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "--ephemeral") {
		t.Errorf("CLI args unexpectedly contain --ephemeral: %s", args)
	}
}

func TestCreateAuthKeyMultipleTags(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]byte{
		"preauthkey create": []byte(createdKeyJSON),
	}}
	registry := newTestRegistry(t, runner)

	if _, err := execute(t, registry, ActionCreateAuthKey, map[string]any{"tags": "ci, prod"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	args := strings.Join(runner.callsFor("preauthkey create")[0], " ")
	if !strings.Contains(args, "--tags tag:ci,tag:prod") {
		t.Errorf("tags not prefixed per-tag: %s", args)
	}
}

func TestCreateAuthKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr error
	}{
		{
			name:    "missing_tags",
			args:    map[string]any{},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "empty_tags",
			args:    map[string]any{"tags": " , "},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "unparseable_expiry",
			args:    map[string]any{"tags": "ci", "expiry": "banana"},
			wantErr: ErrInvalidDuration,
		},
		{
			name:    "non_string_expiry",
			args:    map[string]any{"tags": "ci", "expiry": 30},
			wantErr: ErrInvalidDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{responses: map[string][]byte{
				"preauthkey create": []byte(createdKeyJSON),
			}}
			registry := newTestRegistry(t, runner)

			_, err := execute(t, registry, ActionCreateAuthKey, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if len(runner.calls) != 0 {
				t.Error("CLI invoked despite invalid arguments")
			}
		})
	}
}

func TestExpireAuthKey(t *testing.T) {
	tests := []struct {
		name        string
		ref         string
		wantErr     error
		wantExpired bool // whether the expire CLI call happens
		wantMessage string
	}{
		{
			name:    "unknown_key",
			ref:     "nonexistent",
			wantErr: ErrNotFound,
		},
		{
			name:        "active_key_by_id",
			ref:         "1",
			wantExpired: true,
			wantMessage: "authkey expired",
		},
		{
			name:        "active_key_by_key_string",
			ref:         "activeactiveactive",
			wantExpired: true,
			wantMessage: "authkey expired",
		},
		{
			name:        "already_expired_is_noop",
			ref:         "2",
			wantMessage: "authkey already expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{responses: map[string][]byte{
				"preauthkey list":   []byte(keyListJSON),
				"preauthkey expire": []byte(`{}`),
			}}
			registry := newTestRegistry(t, runner)

			result, err := execute(t, registry, ActionExpireAuthKey, map[string]any{"authkey": tt.ref})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("expire failed: %v", err)
			}
			if !result.Success {
				t.Fatalf("expire not successful: %s", result.Message)
			}
			if result.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", result.Message, tt.wantMessage)
			}

			expireCalls := runner.callsFor("preauthkey expire")
			if tt.wantExpired && len(expireCalls) != 1 {
				t.Errorf("expire CLI called %d times, want 1", len(expireCalls))
			}
			if !tt.wantExpired && len(expireCalls) != 0 {
				t.Error("expire CLI called for already-expired key")
			}
		})
	}
}

func TestExpireAuthKeyRequiresRef(t *testing.T) {
	runner := &fakeRunner{}
	registry := newTestRegistry(t, runner)

	_, err := execute(t, registry, ActionExpireAuthKey, map[string]any{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestListAuthKeys(t *testing.T) {
	runner := &fakeRunner{responses: map[string][]byte{
		"preauthkey list": []byte(keyListJSON),
	}}
	registry := newTestRegistry(t, runner)

	result, err := execute(t, registry, ActionListAuthKeys, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	keys, ok := result.Payload["authkeys"].([]admin.AuthKey)
	if !ok {
		t.Fatalf("payload authkeys has type %T", result.Payload["authkeys"])
	}
	if len(keys) != 2 {
		t.Fatalf("listed %d keys, want 2", len(keys))
	}
	// Snapshot is ordered by creation time
	if keys[0].ID != "1" || keys[1].ID != "2" {
		t.Errorf("keys not ordered by creation time: %s, %s", keys[0].ID, keys[1].ID)
	}
}

func TestDispatcherUnknownAction(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil)

	result, err := d.Dispatch(context.Background(), "no-such-action", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want %v", err, ErrNotFound)
	}
	if result == nil || result.Success {
		t.Error("expected failed result for unknown action")
	}
}

func TestDispatcherReturnsFailureResult(t *testing.T) {
	registry := NewRegistry()
	if err := registry.RegisterSimple("boom", func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, errors.New("it broke")
	}); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(registry, nil)
	result, err := d.Dispatch(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Success {
		t.Error("failure produced successful result")
	}
	if result.Message != "it broke" {
		t.Errorf("message = %q", result.Message)
	}
}
