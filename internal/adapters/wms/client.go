package wms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/core/ports"
)

const (
	maxBody = 8 << 20

	// Each query renders a 256x256 map and asks about its centre pixel.
	imageSize   = 256
	centerPixel = imageSize / 2

	// Every configured WMS service exposes its queried layer at index 0.
	queryLayer = "0"
)

// Client issues WMS 1.3.0 GetFeatureInfo queries.
type Client struct {
	HTTPClient *http.Client
	Tokens     ports.TokenProvider
	UserAgent  string
}

// NewClient creates a Client. tokens may be nil.
func NewClient(httpClient *http.Client, tokens ports.TokenProvider, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{HTTPClient: httpClient, Tokens: tokens, UserAgent: userAgent}
}

// FeatureInfoURL builds the GetFeatureInfo URL for a point at (x, y) in
// EPSG:31983. Query parameters already present on endpoint are kept.
func FeatureInfoURL(endpoint string, at domain.Coordinate, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	b := at.Envelope(domain.ToleranceMeters)
	bbox := strings.Join([]string{
		formatCoord(b.Min[0]), formatCoord(b.Min[1]),
		formatCoord(b.Max[0]), formatCoord(b.Max[1]),
	}, ",")

	q := u.Query()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.3.0")
	q.Set("REQUEST", "GetFeatureInfo")
	q.Set("LAYERS", queryLayer)
	q.Set("QUERY_LAYERS", queryLayer)
	q.Set("STYLES", "")
	q.Set("CRS", domain.EPSG31983.String())
	q.Set("BBOX", bbox)
	q.Set("WIDTH", strconv.Itoa(imageSize))
	q.Set("HEIGHT", strconv.Itoa(imageSize))
	q.Set("I", strconv.Itoa(centerPixel))
	q.Set("J", strconv.Itoa(centerPixel))
	q.Set("INFO_FORMAT", "text/xml")
	q.Set("FORMAT", "image/png")
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Query checks svc at the given EPSG:31983 coordinate.
func (c *Client) Query(ctx context.Context, svc domain.ServiceDescriptor, at domain.Coordinate) (*domain.QueryOutcome, error) {
	if at.CRS != domain.EPSG31983 {
		return nil, &domain.QueryError{Service: svc.Name, Message: fmt.Sprintf("coordinate must be in %s, got %s", domain.EPSG31983, at.CRS)}
	}

	var token string
	if svc.RequiresAuth {
		if c.Tokens == nil {
			return nil, &domain.AuthError{Service: svc.Name, Message: "no token provider configured"}
		}
		tok, err := c.Tokens.GetToken(ctx, svc)
		if err != nil {
			return nil, err
		}
		token = tok.Value
	}

	infoURL, err := FeatureInfoURL(svc.URL, at, token)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "text/xml, application/xml;q=0.9, */*;q=0.1")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &domain.QueryError{Service: svc.Name, Status: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.QueryError{Service: svc.Name, Status: resp.StatusCode, Message: "unexpected status", Detail: snippet(body)}
	}

	attrs, err := ParseFeatureInfo(bytes.NewReader(body))
	if err != nil {
		var ex *ServiceException
		if errors.As(err, &ex) {
			return nil, &domain.QueryError{Service: svc.Name, Message: ex.Error(), Err: err}
		}
		return nil, &domain.QueryError{Service: svc.Name, Message: "unparseable response", Detail: snippet(body), Err: err}
	}
	if attrs == nil {
		return domain.Clear(svc.Name, svc.Kind), nil
	}
	return domain.Intersecting(svc.Name, svc.Kind, attrs), nil
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
