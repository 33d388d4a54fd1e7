package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
)

// maxBody bounds how much of a response we read.
const maxBody = 8 << 20

// Client queries ArcGIS REST MapServer/FeatureServer layers for features
// intersecting a small envelope around a point.
type Client struct {
	HTTPClient *http.Client
	Tokens     ports.TokenProvider
	Referer    string
	UserAgent  string
}

// NewClient creates a Client. tokens may be nil when no service requires auth.
func NewClient(httpClient *http.Client, tokens ports.TokenProvider, referer, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		Tokens:     tokens,
		Referer:    referer,
		UserAgent:  userAgent,
	}
}

// QueryURL builds the layer query URL for a point at (x, y) in EPSG:31983.
func QueryURL(endpoint string, at domain.Coordinate, token string) (string, error) {
	b := at.Envelope(domain.ToleranceMeters)
	geom, err := json.Marshal(envelope{
		XMin: b.Min[0], YMin: b.Min[1],
		XMax: b.Max[0], YMax: b.Max[1],
		SpatialReference: spatialReference{WKID: int(domain.EPSG31983)},
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(endpoint, "/") + "/query")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("geometry", string(geom))
	q.Set("geometryType", "esriGeometryEnvelope")
	q.Set("spatialRel", "esriSpatialRelIntersects")
	q.Set("outFields", "*")
	q.Set("returnGeometry", "false")
	q.Set("f", "json")
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Query checks svc at the given EPSG:31983 coordinate. A token the server
// rejects is invalidated and the query retried once with a fresh one.
func (c *Client) Query(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
	if at.CRS != domain.EPSG31983 {
		return nil, &domain.QueryError{Service: svc.Name, Message: fmt.Sprintf("coordinate must be in %s, got %s", domain.EPSG31983, at.CRS)}
	}

	token, err := c.token(ctx, svc)
	if err != nil {
		return nil, err
	}
	out, err := c.query(ctx, svc, at, token)
	if token == "" || !rejectedToken(err) {
		return out, err
	}

	inv, ok := c.Tokens.(ports.TokenInvalidator)
	if !ok {
		return nil, err
	}
	if ierr := inv.Invalidate(ctx, svc); ierr != nil {
		return nil, err
	}
	if token, err = c.token(ctx, svc); err != nil {
		return nil, err
	}
	return c.query(ctx, svc, at, token)
}

func (c *Client) token(ctx context.Context, svc domain.ServiceDescriptor) (string, error) {
	if !svc.RequiresAuth {
		return "", nil
	}
	if c.Tokens == nil {
		return "", &domain.AuthError{Service: svc.Name, Message: "no token provider configured"}
	}
	tok, err := c.Tokens.GetToken(ctx, svc)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// rejectedToken reports the ArcGIS invalid (498) and required (499) token codes.
func rejectedToken(err error) bool {
	var qe *domain.QueryError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.Status == 498 || qe.Status == 499
}

func (c *Client) query(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate, token string) (*domain.QueryOutcome, error) {
	queryURL, err := QueryURL(svc.URL, at, token)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.Referer != "" {
		req.Header.Set("Referer", c.Referer)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "request failed", Err: err, Detail: redact(err.Error(), token)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Status: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.QueryError{Service: svc.Name, Status: resp.StatusCode, Message: "unexpected status", Detail: snippet(body)}
	}

	return parseQueryResponse(svc, body)
}

func parseQueryResponse(svc domain.ServiceDescriptor, body []byte) (*domain.QueryOutcome, error) {
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "unparseable response", Detail: snippet(body), Err: err}
	}

	if qr.Error != nil {
		msg := qr.Error.Message
		if msg == "" {
			msg = "service query failed"
		}
		return nil, &domain.QueryError{Service: svc.Name, Status: qr.Error.Code, Message: msg, Detail: qr.Error.detail()}
	}

	if len(qr.Features) == 0 {
		return domain.Clear(svc.Name, svc.Kind), nil
	}

	attrs, err := domain.ParseAttributesJSON(qr.Features[0].Attributes)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "unparseable feature attributes", Err: err}
	}
	if attrs == nil {
		attrs = domain.NewAttributes()
	}
	return domain.Intersecting(svc.Name, svc.Kind, attrs), nil
}

// redact removes a token from transport error text, which may echo the URL.
func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, url.QueryEscape(token), "***")
}
