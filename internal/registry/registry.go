// Package registry loads the ordered list of services checked by each query
// round.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// Credential environment variables used when a protected entry names none.
const (
	DefaultUsernameEnv = "GEOINCIDENCE_INSTITUCIONAL_USERNAME"
	DefaultPasswordEnv = "GEOINCIDENCE_INSTITUCIONAL_PASSWORD"
)

//go:embed services.yaml
var defaultServices []byte

type file struct {
	TokenURL string  `yaml:"token_url"`
	Services []entry `yaml:"services"`
}

type entry struct {
	Name         string              `yaml:"name"`
	URL          string              `yaml:"url"`
	Kind         domain.ProtocolKind `yaml:"kind"`
	RequiresAuth bool                `yaml:"requires_auth"`
	UsernameEnv  string              `yaml:"username_env"`
	PasswordEnv  string              `yaml:"password_env"`
	TokenURL     string              `yaml:"token_url"`
}

// Registry is an immutable, validated service list.
type Registry struct {
	services []domain.ServiceDescriptor
}

// PublicService is the credential-free view served by the API.
type PublicService struct {
	Name         string              `json:"name"`
	URL          string              `json:"url"`
	Kind         domain.ProtocolKind `json:"kind"`
	RequiresAuth bool                `json:"requires_auth"`
}

// Load reads a registry file. An empty path selects the embedded default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Default parses the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultServices, os.LookupEnv)
}

// Parse decodes registry YAML, resolving credentials through lookup. Every
// problem is reported, not only the first.
func Parse(data []byte, lookup func(string) (string, bool)) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, errors.New("registry: no services defined")
	}

	var (
		errs     []string
		services = make([]domain.ServiceDescriptor, 0, len(f.Services))
		seen     = make(map[string]bool, len(f.Services))
	)
	for i, e := range f.Services {
		svc := domain.ServiceDescriptor{
			Name:         strings.TrimSpace(e.Name),
			URL:          strings.TrimSpace(e.URL),
			Kind:         e.Kind,
			RequiresAuth: e.RequiresAuth,
			TokenURL:     e.TokenURL,
		}
		if svc.Kind == "" {
			svc.Kind = domain.ArcGISRest
		}
		if svc.TokenURL == "" {
			svc.TokenURL = f.TokenURL
		}

		if svc.RequiresAuth {
			creds, missing := resolveCredentials(e, lookup)
			if len(missing) > 0 {
				errs = append(errs, fmt.Sprintf("service %q: missing environment variable(s) %s", svc.Name, strings.Join(missing, ", ")))
				continue
			}
			svc.Credentials = creds
		}

		if err := svc.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		if seen[svc.Name] {
			errs = append(errs, fmt.Sprintf("service %q: duplicate name", svc.Name))
			continue
		}
		seen[svc.Name] = true
		services = append(services, svc)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("registry validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return &Registry{services: services}, nil
}

func resolveCredentials(e entry, lookup func(string) (string, bool)) (*domain.Credentials, []string) {
	userEnv, passEnv := e.UsernameEnv, e.PasswordEnv
	if userEnv == "" {
		userEnv = DefaultUsernameEnv
	}
	if passEnv == "" {
		passEnv = DefaultPasswordEnv
	}

	var missing []string
	user, ok := lookup(userEnv)
	if !ok || user == "" {
		missing = append(missing, userEnv)
	}
	pass, ok := lookup(passEnv)
	if !ok || pass == "" {
		missing = append(missing, passEnv)
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return &domain.Credentials{Username: user, Password: pass}, nil
}

// Services returns a copy of the descriptors in query order.
func (r *Registry) Services() []domain.ServiceDescriptor {
	out := make([]domain.ServiceDescriptor, len(r.services))
	copy(out, r.services)
	return out
}

// Len returns the number of services.
func (r *Registry) Len() int { return len(r.services) }

// Public returns the registry without credentials.
func (r *Registry) Public() []PublicService {
	return PublicView(r.services)
}

// PublicView strips credentials from descriptors.
func PublicView(services []domain.ServiceDescriptor) []PublicService {
	out := make([]PublicService, len(services))
	for i, s := range services {
		out[i] = PublicService{Name: s.Name, URL: s.URL, Kind: s.Kind, RequiresAuth: s.RequiresAuth}
	}
	return out
}
