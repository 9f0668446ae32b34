package config

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestDefaultPopulatesClientAndServer(t *testing.T) {
	cfg := Default()

	if len(cfg.Client.ICEServers) == 0 {
		t.Errorf("Default().Client.ICEServers should not be empty")
	}
	if cfg.Client.DefaultChunkSize <= 0 {
		t.Errorf("Default().Client.DefaultChunkSize should be positive")
	}
	if cfg.Server.MaxPeersPerRoom != 2 {
		t.Errorf("Default().Server.MaxPeersPerRoom = %d, want 2", cfg.Server.MaxPeersPerRoom)
	}
	if cfg.Server.InstanceID.String() == "" {
		t.Errorf("Default().Server.InstanceID should be a populated uuid")
	}
}

func TestDefaultGeneratesDistinctInstanceIDs(t *testing.T) {
	a := Default()
	b := Default()
	if a.Server.InstanceID == b.Server.InstanceID {
		t.Errorf("two Default() calls should not share an instance id")
	}
}

func TestICEServersConfigFallsBackToDefault(t *testing.T) {
	c := ClientConfig{}
	servers := c.ICEServersConfig()
	if len(servers) == 0 {
		t.Fatalf("ICEServersConfig() with no configured servers should fall back to a default")
	}
}

func TestICEServersConfigUsesConfiguredURLs(t *testing.T) {
	c := ClientConfig{ICEServers: []string{"stun:example.com:3478"}}
	servers := c.ICEServersConfig()
	if len(servers) != 1 || len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:example.com:3478" {
		t.Errorf("ICEServersConfig() = %+v, want a single entry wrapping the configured URL", servers)
	}
}

func TestHandlerServesClientConfigAsJSON(t *testing.T) {
	cfg := Default()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/config", nil)

	Handler(cfg.Client)(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got ClientConfig
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if got.AppTitle != cfg.Client.AppTitle {
		t.Errorf("AppTitle = %q, want %q", got.AppTitle, cfg.Client.AppTitle)
	}
}

func TestHandlerRejectsNonGET(t *testing.T) {
	cfg := Default()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/config", nil)

	Handler(cfg.Client)(rr, req)

	if rr.Code != 405 {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
