// Package route implements the optional ingress integration. Its absence is
// non-fatal: without a route the managed server stays reachable by direct
// access only.
package route

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/eventbus"
	"github.com/nettics/hswarden/internal/state"
)

// Integration stores the route fact and notifies the reconciler on change.
type Integration struct {
	store *state.Store
	bus   *eventbus.Bus
}

// NewIntegration creates the route integration.
func NewIntegration(store *state.Store, bus *eventbus.Bus) *Integration {
	return &Integration{store: store, bus: bus}
}

// SetExternalHost records the ingress-provided external host.
func (i *Integration) SetExternalHost(host string) error {
	if host == "" {
		return fmt.Errorf("external host must not be empty")
	}
	_, changed, err := i.store.UpdateFacts(func(f state.Facts) state.Facts {
		f.ExternalHost = host
		return f
	})
	if err != nil {
		return err
	}
	if changed {
		log.Info().Str("external_host", host).Msg("Route integration ready")
		i.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeRouteChanged,
			Data: map[string]any{"external_host": host},
		})
	}
	return nil
}

// Clear removes the route fact (integration departed).
func (i *Integration) Clear() error {
	_, changed, err := i.store.UpdateFacts(func(f state.Facts) state.Facts {
		f.ExternalHost = ""
		return f
	})
	if err != nil {
		return err
	}
	if changed {
		log.Info().Msg("Route integration removed")
		i.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeRouteChanged,
			Data: map[string]any{"external_host": ""},
		})
	}
	return nil
}

// TraefikConfig is the dynamic configuration handed to the ingress proxy.
type TraefikConfig struct {
	HTTP TraefikHTTP `json:"http"`
}

type TraefikHTTP struct {
	Routers     map[string]TraefikRouter     `json:"routers"`
	Services    map[string]TraefikService    `json:"services"`
	Middlewares map[string]TraefikMiddleware `json:"middlewares"`
}

type TraefikRouter struct {
	EntryPoints []string `json:"entryPoints"`
	Middlewares []string `json:"middlewares"`
	Service     string   `json:"service"`
	Rule        string   `json:"rule"`
}

type TraefikService struct {
	LoadBalancer TraefikLoadBalancer `json:"loadBalancer"`
}

type TraefikLoadBalancer struct {
	Servers []TraefikServer `json:"servers"`
}

type TraefikServer struct {
	URL string `json:"url"`
}

type TraefikMiddleware struct {
	Headers TraefikHeaders `json:"headers"`
}

type TraefikHeaders struct {
	CustomRequestHeaders map[string]string `json:"customRequestHeaders"`
}

// GenerateTraefikConfig builds the dynamic config routing the external name
// to the managed server. The coordination protocol upgrades connections, so
// the Connection header is forced on the way in.
func GenerateTraefikConfig(unitName, externalName, internalURL string) TraefikConfig {
	routerName := fmt.Sprintf("%s-router", unitName)
	serviceName := fmt.Sprintf("%s-service", unitName)
	middlewareName := fmt.Sprintf("%s-headers", unitName)

	return TraefikConfig{
		HTTP: TraefikHTTP{
			Routers: map[string]TraefikRouter{
				routerName: {
					EntryPoints: []string{"web"},
					Middlewares: []string{middlewareName},
					Service:     serviceName,
					Rule:        fmt.Sprintf("Host(`%s`)", externalName),
				},
			},
			Services: map[string]TraefikService{
				serviceName: {
					LoadBalancer: TraefikLoadBalancer{
						Servers: []TraefikServer{{URL: internalURL}},
					},
				},
			},
			Middlewares: map[string]TraefikMiddleware{
				middlewareName: {
					Headers: TraefikHeaders{
						CustomRequestHeaders: map[string]string{"Connection": "Upgrade"},
					},
				},
			},
		},
	}
}
