package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProtocolKind selects the wire protocol used to query a service.
type ProtocolKind string

const (
	ArcGISRest ProtocolKind = "arcgis_rest"
	WMS        ProtocolKind = "wms"
)

// Valid reports whether k is a known protocol.
func (k ProtocolKind) Valid() bool {
	return k == ArcGISRest || k == WMS
}

// Credentials authenticate against a protected service's token authority.
type Credentials struct {
	Username string `json:"-" yaml:"-"`
	Password string `json:"-" yaml:"-"`
}

// String never reveals the password.
func (c Credentials) String() string {
	return c.Username + ":***"
}

// Empty reports whether either field is missing.
func (c *Credentials) Empty() bool {
	return c == nil || c.Username == "" || c.Password == ""
}

// ServiceDescriptor describes one queried layer. Registry order determines
// report order.
type ServiceDescriptor struct {
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	Kind         ProtocolKind `json:"kind"`
	RequiresAuth bool         `json:"requires_auth"`
	Credentials  *Credentials `json:"-"`
	// TokenURL overrides the configured token authority for this service.
	TokenURL string `json:"-"`
}

// Validate checks the descriptor's invariants.
func (s ServiceDescriptor) Validate() error {
	var errs []string
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, "name is required")
	}
	if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("url %q must be an absolute http(s) URL", s.URL))
	}
	if !s.Kind.Valid() {
		errs = append(errs, fmt.Sprintf("unknown kind %q", s.Kind))
	}
	if s.RequiresAuth && s.Credentials.Empty() {
		errs = append(errs, "requires_auth is set but credentials are missing")
	}
	if len(errs) > 0 {
		return fmt.Errorf("service %q: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Host returns the endpoint authority, used as the token cache scope.
func (s ServiceDescriptor) Host() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return s.URL
	}
	return u.Host
}

// AuthToken is a short-lived bearer token for protected services.
type AuthToken struct {
	Value            string    `json:"value"`
	ObtainedFrom     string    `json:"obtained_from"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// String never reveals the token value.
func (t AuthToken) String() string {
	return fmt.Sprintf("token(from=%s, expires=%s)", t.ObtainedFrom, t.ExpiresAt.Format(time.RFC3339))
}

// Valid reports whether the token is still usable at now, keeping skew in reserve.
func (t *AuthToken) Valid(now time.Time, skew time.Duration) bool {
	return t != nil && t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}

// OutcomeStatus classifies a per-service result.
type OutcomeStatus string

const (
	StatusIntersects OutcomeStatus = "intersects"
	StatusClear      OutcomeStatus = "clear"
	StatusFailed     OutcomeStatus = "failed"
)

// QueryOutcome is the result of querying one service in one round.
type QueryOutcome struct {
	LayerName       string        `json:"layer_name"`
	Kind            ProtocolKind  `json:"kind"`
	Status          OutcomeStatus `json:"status"`
	HasIntersection bool          `json:"has_intersection"`
	Attributes      *Attributes   `json:"attributes"`
	Error           string        `json:"error,omitempty"`
	ElapsedMS       int64         `json:"elapsed_ms"`
}

// Intersecting builds a positive outcome.
func Intersecting(name string, kind ProtocolKind, attrs *Attributes) *QueryOutcome {
	return &QueryOutcome{LayerName: name, Kind: kind, Status: StatusIntersects, HasIntersection: true, Attributes: attrs}
}

// Clear builds a negative outcome with no attributes.
func Clear(name string, kind ProtocolKind) *QueryOutcome {
	return &QueryOutcome{LayerName: name, Kind: kind, Status: StatusClear}
}

// Failed builds a failed outcome carrying the reason.
func Failed(name string, kind ProtocolKind, err error) *QueryOutcome {
	return &QueryOutcome{LayerName: name, Kind: kind, Status: StatusFailed, Error: err.Error()}
}

// Summary counts outcomes by status.
type Summary struct {
	Total        int `json:"total"`
	Intersecting int `json:"intersecting"`
	Clear        int `json:"clear"`
	Failed       int `json:"failed"`
}

// Report is a completed query round.
type Report struct {
	Input       GeoPoint       `json:"input"`
	Projected   Coordinate     `json:"projected"`
	Outcomes    []QueryOutcome `json:"outcomes"`
	Summary     Summary        `json:"summary"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Summarize recomputes Summary from Outcomes.
func (r *Report) Summarize() {
	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusIntersects:
			s.Intersecting++
		case StatusClear:
			s.Clear++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// Result names the report's overall class: any intersection wins, then any failure.
func (r *Report) Result() OutcomeStatus {
	switch {
	case r.Summary.Intersecting > 0:
		return StatusIntersects
	case r.Summary.Failed > 0:
		return StatusFailed
	}
	return StatusClear
}

// Progress is the live state of a sequential round.
type Progress struct {
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	Current string        `json:"current,omitempty"`
	Last    *QueryOutcome `json:"last,omitempty"`
}
