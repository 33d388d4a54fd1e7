package arcgis

import (
	"encoding/json"
	"strings"
)

// errorObject is the error envelope ArcGIS Server returns with HTTP 200.
type errorObject struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *errorObject) detail() string {
	return strings.Join(e.Details, "; ")
}

type spatialReference struct {
	WKID int `json:"wkid"`
}

// envelope is an esriGeometryEnvelope.
type envelope struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference spatialReference `json:"spatialReference"`
}

type feature struct {
	Attributes json.RawMessage `json:"attributes"`
}

// queryResponse is the subset of a layer /query response we read.
type queryResponse struct {
	Features              []feature    `json:"features"`
	ExceededTransferLimit bool         `json:"exceededTransferLimit"`
	Error                 *errorObject `json:"error"`
}

// tokenResponse is the generateToken response.
type tokenResponse struct {
	Token   string       `json:"token"`
	Expires int64        `json:"expires"` // epoch milliseconds
	SSL     bool         `json:"ssl"`
	Error   *errorObject `json:"error"`
}

// snippet trims a response body for error details.
func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
