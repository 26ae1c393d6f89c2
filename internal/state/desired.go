// Package state holds the desired state for the managed headscale server:
// operator-declared options and platform-observed facts. Both documents are
// versioned for dirty tracking in the reconciler.
package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
)

// ErrConfigInvalid marks bad or missing desired-state input. Reconciliation
// blocks on it until the input changes; it is never retried automatically.
var ErrConfigInvalid = errors.New("config invalid")

// Defaults for declarative options
const (
	DefaultLogLevel = "info"
	DefaultName     = "headscale"
	DefaultMagicDNS = "headscale.test"
	DefaultOIDCExp  = "1d"
)

var validLogLevels = []string{"info", "debug", "critical", "warning"}

// Options is the operator-declared configuration surface.
type Options struct {
	LogLevel string `json:"log_level,omitempty"`
	Name     string `json:"name,omitempty"`
	Policy   string `json:"policy,omitempty"`

	// MagicDNS base domain. nil means "use default"; an explicit empty
	// string disables MagicDNS entirely.
	MagicDNS *string `json:"magic_dns,omitempty"`

	OIDC OIDCOptions `json:"oidc,omitempty"`
	TLS  TLSOptions  `json:"tls,omitempty"`
}

// OIDCOptions configures single sign-on for the managed server.
// Issuer, client ID and secret are the required minimum when any is set.
type OIDCOptions struct {
	Issuer        string   `json:"issuer,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	Secret        string   `json:"secret,omitempty"`
	Expiry        string   `json:"expiry,omitempty"`
	Scope         []string `json:"scope,omitempty"`
	AllowedGroups []string `json:"allowed_groups,omitempty"`
}

// Empty reports whether no OIDC option is set.
func (o OIDCOptions) Empty() bool {
	return o.Issuer == "" && o.ClientID == "" && o.Secret == "" &&
		o.Expiry == "" && len(o.Scope) == 0 && len(o.AllowedGroups) == 0
}

// TLSOptions points at an externally provisioned certificate pair.
type TLSOptions struct {
	CertPath string `json:"cert_path,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
}

// Enabled reports whether TLS is configured.
func (t TLSOptions) Enabled() bool {
	return t.CertPath != "" && t.KeyPath != ""
}

// Facts are platform-observed inputs the operator does not declare.
type Facts struct {
	// ExternalHost is supplied by the ingress integration; empty when the
	// integration is absent (non-fatal, direct access only).
	ExternalHost string `json:"external_host,omitempty"`

	// StorageReady reports that the persisted data volume is mounted and
	// writable.
	StorageReady bool `json:"storage_ready"`
}

// DesiredState is an immutable snapshot of options and facts taken at the
// start of a reconciliation pass. Options have defaults applied and have
// passed validation.
type DesiredState struct {
	Options Options
	Facts   Facts
	Version int64
}

// MagicDNSDomain returns the effective MagicDNS base domain, "" if disabled.
func (d DesiredState) MagicDNSDomain() string {
	if d.Options.MagicDNS == nil {
		return DefaultMagicDNS
	}
	return *d.Options.MagicDNS
}

// ServerName returns the externally visible host name: the configured name,
// qualified with the ingress host when the route integration is present.
func (d DesiredState) ServerName() string {
	if d.Facts.ExternalHost != "" {
		return d.Options.Name + "." + d.Facts.ExternalHost
	}
	return d.Options.Name
}

// withDefaults returns a copy of the options with defaults filled in.
func withDefaults(o Options) Options {
	if o.LogLevel == "" {
		o.LogLevel = DefaultLogLevel
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	if !o.OIDC.Empty() && o.OIDC.Expiry == "" {
		o.OIDC.Expiry = DefaultOIDCExp
	}
	return o
}

// Validate checks options after defaults are applied. All failures wrap
// ErrConfigInvalid.
func Validate(o Options) error {
	valid := false
	for _, l := range validLogLevels {
		if o.LogLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: log-level %q not in [%s]",
			ErrConfigInvalid, o.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if o.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrConfigInvalid)
	}

	if o.Policy != "" {
		if _, err := hujson.Parse([]byte(o.Policy)); err != nil {
			return fmt.Errorf("%w: policy is not valid HuJSON: %v", ErrConfigInvalid, err)
		}
	}

	if !o.OIDC.Empty() {
		if o.OIDC.Issuer == "" || o.OIDC.ClientID == "" || o.OIDC.Secret == "" {
			return fmt.Errorf("%w: minimum OIDC settings: issuer, client-id, secret", ErrConfigInvalid)
		}
	}

	if (o.TLS.CertPath == "") != (o.TLS.KeyPath == "") {
		return fmt.Errorf("%w: TLS requires both cert-path and key-path", ErrConfigInvalid)
	}

	return nil
}
