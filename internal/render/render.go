// Package render maps desired state to the managed server's configuration
// artifact. Rendering is pure: no I/O, and field-wise equal inputs always
// produce byte-identical output so config changes are hash-comparable.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/nettics/hswarden/internal/state"
)

// Artifact locations inside the workload config dir.
const (
	ConfigFileName = "config.yaml"
	PolicyFileName = "policy.hujson"

	// PolicyPath is the absolute path referenced from the rendered config.
	PolicyPath = "/etc/headscale/" + PolicyFileName
)

// RenderedConfig is the immutable output of a render: the headscale
// config.yaml body, the optional ACL policy body, and a content hash over
// both for idempotence checks.
type RenderedConfig struct {
	Config []byte
	Policy []byte // nil when no policy is configured
	Hash   string
}

// serverConfig mirrors headscale's config.yaml. Marshalling fixed structs
// (never maps) keeps the output deterministic.
type serverConfig struct {
	ServerURL           string         `yaml:"server_url"`
	ListenAddr          string         `yaml:"listen_addr"`
	MetricsListenAddr   string         `yaml:"metrics_listen_addr"`
	Noise               noiseConfig    `yaml:"noise"`
	Prefixes            prefixesConfig `yaml:"prefixes"`
	DERP                derpConfig     `yaml:"derp"`
	DisableCheckUpdates bool           `yaml:"disable_check_updates"`
	EphemeralTimeout    string         `yaml:"ephemeral_node_inactivity_timeout"`
	Database            databaseConfig `yaml:"database"`
	UnixSocket          string         `yaml:"unix_socket"`
	UnixSocketPerm      string         `yaml:"unix_socket_permission"`
	TLSCertPath         string         `yaml:"tls_cert_path,omitempty"`
	TLSKeyPath          string         `yaml:"tls_key_path,omitempty"`
	Log                 logConfig      `yaml:"log"`
	DNS                 dnsConfig      `yaml:"dns"`
	Policy              policyConfig   `yaml:"policy"`
	OIDC                *oidcConfig    `yaml:"oidc,omitempty"`
}

type noiseConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
}

type prefixesConfig struct {
	V4         string `yaml:"v4"`
	V6         string `yaml:"v6"`
	Allocation string `yaml:"allocation"`
}

type derpConfig struct {
	Server            derpServerConfig `yaml:"server"`
	URLs              []string         `yaml:"urls"`
	AutoUpdateEnabled bool             `yaml:"auto_update_enabled"`
	UpdateFrequency   string           `yaml:"update_frequency"`
}

type derpServerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type databaseConfig struct {
	Type   string       `yaml:"type"`
	Debug  bool         `yaml:"debug"`
	SQLite sqliteConfig `yaml:"sqlite"`
}

type sqliteConfig struct {
	Path              string `yaml:"path"`
	WriteAheadLog     bool   `yaml:"write_ahead_log"`
	WALAutocheckpoint int    `yaml:"wal_autocheckpoint"`
}

type logConfig struct {
	Level string `yaml:"level"`
}

type dnsConfig struct {
	MagicDNS         bool   `yaml:"magic_dns"`
	BaseDomain       string `yaml:"base_domain,omitempty"`
	OverrideLocalDNS bool   `yaml:"override_local_dns"`
}

type policyConfig struct {
	Mode string `yaml:"mode"`
	Path string `yaml:"path,omitempty"`
}

type oidcConfig struct {
	Issuer        string   `yaml:"issuer"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Expiry        string   `yaml:"expiry"`
	Scope         []string `yaml:"scope"`
	AllowedGroups []string `yaml:"allowed_groups,omitempty"`
	OnlyStartIfUp bool     `yaml:"only_start_if_oidc_is_available"`
}

// Render produces the configuration artifact for a desired state.
func Render(st state.DesiredState) (RenderedConfig, error) {
	cfg := staticConfig()

	cfg.Log = logConfig{Level: st.Options.LogLevel}
	cfg.DNS = dnsSection(st)
	cfg.Policy = policySection(st.Options.Policy)
	cfg.OIDC = oidcSection(st.Options.OIDC)

	name := st.ServerName()
	if st.Options.TLS.Enabled() {
		cfg.ServerURL = fmt.Sprintf("https://%s:443", name)
		cfg.ListenAddr = "0.0.0.0:443"
		cfg.TLSCertPath = st.Options.TLS.CertPath
		cfg.TLSKeyPath = st.Options.TLS.KeyPath
	} else {
		cfg.ServerURL = fmt.Sprintf("http://%s:80", name)
		cfg.ListenAddr = "0.0.0.0:80"
	}

	body, err := yaml.Marshal(&cfg)
	if err != nil {
		return RenderedConfig{}, fmt.Errorf("failed to marshal config: %w", err)
	}

	rc := RenderedConfig{Config: body}
	if st.Options.Policy != "" {
		// The policy may carry comments and trailing commas; the artifact
		// handed to the server is standard JSON.
		policy, err := hujson.Standardize([]byte(st.Options.Policy))
		if err != nil {
			return RenderedConfig{}, fmt.Errorf("%w: policy is not valid HuJSON: %v", state.ErrConfigInvalid, err)
		}
		rc.Policy = policy
	}
	rc.Hash = hashArtifact(rc.Config, rc.Policy)

	return rc, nil
}

// staticConfig is the fixed part of the managed server's configuration.
func staticConfig() serverConfig {
	return serverConfig{
		MetricsListenAddr: "0.0.0.0:9090",
		Noise: noiseConfig{
			PrivateKeyPath: "/var/lib/headscale/noise_private.key",
		},
		Prefixes: prefixesConfig{
			V4:         "100.64.0.0/10",
			V6:         "fd7a:115c:a1e0::/48",
			Allocation: "sequential",
		},
		DERP: derpConfig{
			Server:            derpServerConfig{Enabled: false},
			URLs:              []string{"https://controlplane.tailscale.com/derpmap/default"},
			AutoUpdateEnabled: true,
			UpdateFrequency:   "24h",
		},
		DisableCheckUpdates: false,
		EphemeralTimeout:    "30m",
		Database: databaseConfig{
			Type:  "sqlite",
			Debug: false,
			SQLite: sqliteConfig{
				Path:              "/var/lib/headscale/db.sqlite",
				WriteAheadLog:     true,
				WALAutocheckpoint: 1000,
			},
		},
		UnixSocket:     "/var/run/headscale/headscale.sock",
		UnixSocketPerm: "0770",
	}
}

func dnsSection(st state.DesiredState) dnsConfig {
	domain := st.MagicDNSDomain()
	if domain == "" {
		return dnsConfig{MagicDNS: false}
	}
	return dnsConfig{
		MagicDNS:         true,
		BaseDomain:       domain,
		OverrideLocalDNS: false,
	}
}

// policySection selects file mode only when a policy document exists;
// an empty policy keeps the server on database mode with no path emitted.
func policySection(policy string) policyConfig {
	if policy == "" {
		return policyConfig{Mode: "database"}
	}
	return policyConfig{Mode: "file", Path: PolicyPath}
}

func oidcSection(o state.OIDCOptions) *oidcConfig {
	if o.Empty() {
		return nil
	}
	scope := o.Scope
	if len(scope) == 0 {
		scope = []string{"openid", "email", "profile"}
	}
	return &oidcConfig{
		Issuer:        o.Issuer,
		ClientID:      o.ClientID,
		ClientSecret:  o.Secret,
		Expiry:        o.Expiry,
		Scope:         scope,
		AllowedGroups: o.AllowedGroups,
		OnlyStartIfUp: true,
	}
}

func hashArtifact(config, policy []byte) string {
	h := sha256.New()
	h.Write(config)
	h.Write([]byte{0})
	h.Write(policy)
	return hex.EncodeToString(h.Sum(nil))
}
