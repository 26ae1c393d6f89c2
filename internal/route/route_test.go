package route

import (
	"testing"
)

func TestGenerateTraefikConfig(t *testing.T) {
	cfg := GenerateTraefikConfig("headscale", "headscale.cloud.example.com", "http://unit-0:80")

	router, ok := cfg.HTTP.Routers["headscale-router"]
	if !ok {
		t.Fatalf("router missing, got %v", cfg.HTTP.Routers)
	}
	if router.Rule != "Host(`headscale.cloud.example.com`)" {
		t.Errorf("rule = %q", router.Rule)
	}
	if router.Service != "headscale-service" {
		t.Errorf("service ref = %q", router.Service)
	}
	if len(router.EntryPoints) != 1 || router.EntryPoints[0] != "web" {
		t.Errorf("entry points = %v", router.EntryPoints)
	}
	if len(router.Middlewares) != 1 || router.Middlewares[0] != "headscale-headers" {
		t.Errorf("middlewares = %v", router.Middlewares)
	}

	svc, ok := cfg.HTTP.Services["headscale-service"]
	if !ok {
		t.Fatalf("service missing, got %v", cfg.HTTP.Services)
	}
	servers := svc.LoadBalancer.Servers
	if len(servers) != 1 || servers[0].URL != "http://unit-0:80" {
		t.Errorf("servers = %v", servers)
	}

	mw, ok := cfg.HTTP.Middlewares["headscale-headers"]
	if !ok {
		t.Fatalf("middleware missing, got %v", cfg.HTTP.Middlewares)
	}
	if got := mw.Headers.CustomRequestHeaders["Connection"]; got != "Upgrade" {
		t.Errorf("Connection header = %q, want Upgrade", got)
	}
}
