package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/registry"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	t.Setenv(registry.DefaultUsernameEnv, "user")
	t.Setenv(registry.DefaultPasswordEnv, "secret")

	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Len() != 21 {
		t.Fatalf("expected 21 services, got %d", reg.Len())
	}

	services := reg.Services()
	if services[0].Name != "DF Legal - Relatório de Monitoramento" {
		t.Errorf("unexpected first service %q", services[0].Name)
	}
	if services[20].Name != "Sisdia - Parque Nacional" {
		t.Errorf("unexpected last service %q", services[20].Name)
	}

	protected := 0
	for _, s := range services {
		if s.RequiresAuth {
			protected++
			if s.Credentials.Empty() || s.Credentials.Username != "user" {
				t.Errorf("%s: credentials not resolved", s.Name)
			}
		}
	}
	if protected != 2 {
		t.Errorf("expected 2 protected services, got %d", protected)
	}
}

func TestDefault_MissingCredentials(t *testing.T) {
	t.Setenv(registry.DefaultUsernameEnv, "")
	t.Setenv(registry.DefaultPasswordEnv, "")

	_, err := registry.Default()
	if err == nil {
		t.Fatal("expected error when credentials are missing")
	}
	if !strings.Contains(err.Error(), registry.DefaultUsernameEnv) || !strings.Contains(err.Error(), "Próprios GDF") {
		t.Errorf("error should list every problem: %v", err)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty",
			yaml:    "services: []",
			wantErr: "no services",
		},
		{
			name: "duplicate names",
			yaml: `services:
  - {name: A, url: "https://a.test/MapServer/0"}
  - {name: A, url: "https://b.test/MapServer/0"}`,
			wantErr: "duplicate name",
		},
		{
			name:    "relative url",
			yaml:    `services: [{name: A, url: "/MapServer/0"}]`,
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "unknown kind",
			yaml:    `services: [{name: A, url: "https://a.test/x", kind: wfs}]`,
			wantErr: "unknown kind",
		},
		{
			name:    "custom credential env missing",
			yaml:    `services: [{name: A, url: "https://a.test/x", requires_auth: true, username_env: A_USER, password_env: A_PASS}]`,
			wantErr: "A_USER, A_PASS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Parse([]byte(tt.yaml), env(nil))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParse_KindsAndTokenURL(t *testing.T) {
	data := `token_url: https://auth.test/generateToken
services:
  - name: Rest
    url: https://a.test/MapServer/0
  - name: Map
    url: https://a.test/WMSServer
    kind: wms
    requires_auth: true
    username_env: MAP_USER
    password_env: MAP_PASS
    token_url: https://other.test/generateToken`

	reg, err := registry.Parse([]byte(data), env(map[string]string{"MAP_USER": "u", "MAP_PASS": "p"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := reg.Services()
	if s[0].Kind != domain.ArcGISRest || s[0].TokenURL != "https://auth.test/generateToken" {
		t.Errorf("unexpected defaults %+v", s[0])
	}
	if s[1].Kind != domain.WMS || s[1].TokenURL != "https://other.test/generateToken" {
		t.Errorf("unexpected overrides %+v", s[1])
	}
	if s[1].Credentials.Password != "p" {
		t.Error("credentials not resolved from custom env vars")
	}
}

func TestLoad_FileAndPublicView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	data := `services:
  - {name: Open, url: "https://a.test/MapServer/0"}
  - {name: Closed, url: "https://a.test/FeatureServer/1", requires_auth: true}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(registry.DefaultUsernameEnv, "user")
	t.Setenv(registry.DefaultPasswordEnv, "secret")

	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub := reg.Public()
	if len(pub) != 2 || pub[1].Name != "Closed" || !pub[1].RequiresAuth {
		t.Errorf("unexpected public view %+v", pub)
	}

	if _, err := registry.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
