package wms_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samirrijal/geoincidence/internal/adapters/wms"
	"github.com/samirrijal/geoincidence/internal/core/domain"
)

var site = domain.Coordinate{X: 191000, Y: 8241000, CRS: domain.EPSG31983}

const fieldsResponse = `<?xml version="1.0" encoding="UTF-8"?>
<FeatureInfoResponse xmlns:esri_wms="http://www.esri.com/wms" xmlns="http://www.esri.com/wms">
<FIELDS OBJECTID="42" NOME="APA do Planalto Central" CATEGORIA="Uso Sustentável" AREA_HA="504160.0"></FIELDS>
</FeatureInfoResponse>`

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?>
<FeatureInfoResponse xmlns:esri_wms="http://www.esri.com/wms" xmlns="http://www.esri.com/wms">
</FeatureInfoResponse>`

const esriFieldResponse = `<?xml version="1.0" encoding="UTF-8"?>
<esri_wms:FeatureInfoResponse xmlns:esri_wms="http://www.esri.com/wms">
  <esri_wms:FeatureInfoCollection layername="0">
    <esri_wms:FeatureInfo>
      <esri_wms:Field><esri_wms:FieldName>OBJECTID</esri_wms:FieldName><esri_wms:FieldValue>9</esri_wms:FieldValue></esri_wms:Field>
      <esri_wms:Field><esri_wms:FieldName>ZONA</esri_wms:FieldName><esri_wms:FieldValue>ZEE-1</esri_wms:FieldValue></esri_wms:Field>
    </esri_wms:FeatureInfo>
  </esri_wms:FeatureInfoCollection>
</esri_wms:FeatureInfoResponse>`

const gmlResponse = `<?xml version="1.0" encoding="ISO-8859-1"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:gml="http://www.opengis.net/gml" xmlns:df="http://df.gov.br">
  <gml:featureMember>
    <df:parques fid="parques.3">
      <df:nome>Parque Ecol` + "\xf3" + `gico</df:nome>
      <df:geom><gml:Point><gml:coordinates>191000,8241000</gml:coordinates></gml:Point></df:geom>
      <df:area>12.5</df:area>
    </df:parques>
  </gml:featureMember>
</wfs:FeatureCollection>`

const exceptionResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ServiceExceptionReport version="1.3.0" xmlns="http://www.opengis.net/ogc">
  <ServiceException code="LayerNotQueryable">Layer 0 is not queryable</ServiceException>
</ServiceExceptionReport>`

func TestParseFeatureInfo(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKeys string
		wantNil  bool
	}{
		{name: "FIELDS element", body: fieldsResponse, wantKeys: "OBJECTID,NOME,CATEGORIA,AREA_HA"},
		{name: "no FIELDS element", body: emptyResponse, wantNil: true},
		{name: "empty FIELDS element", body: `<FeatureInfoResponse xmlns="http://www.esri.com/wms"><FIELDS/></FeatureInfoResponse>`, wantNil: true},
		{name: "FIELDS with only namespace", body: `<FeatureInfoResponse><FIELDS xmlns="http://www.esri.com/wms"></FIELDS></FeatureInfoResponse>`, wantNil: true},
		{name: "Esri FeatureInfo", body: esriFieldResponse, wantKeys: "OBJECTID,ZONA"},
		{name: "GML feature member", body: gmlResponse, wantKeys: "nome,area"},
		{name: "unrelated document", body: `<root><something/></root>`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := wms.ParseFeatureInfo(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if attrs != nil {
					t.Fatalf("expected no feature, got %v", attrs.Keys())
				}
				return
			}
			if attrs == nil {
				t.Fatal("expected a feature")
			}
			if got := strings.Join(attrs.Keys(), ","); got != tt.wantKeys {
				t.Errorf("keys = %s, want %s", got, tt.wantKeys)
			}
		})
	}
}

func TestParseFeatureInfo_Values(t *testing.T) {
	attrs, err := wms.ParseFeatureInfo(strings.NewReader(fieldsResponse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := attrs.Get("NOME"); v.Text() != "APA do Planalto Central" {
		t.Errorf("NOME = %q", v.Text())
	}
	if v, _ := attrs.Get("CATEGORIA"); v.Text() != "Uso Sustentável" {
		t.Errorf("CATEGORIA = %q", v.Text())
	}

	gml, err := wms.ParseFeatureInfo(strings.NewReader(gmlResponse))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := gml.Get("nome"); v.Text() != "Parque Ecológico" {
		t.Errorf("Latin-1 value not decoded: %q", v.Text())
	}
}

func TestParseFeatureInfo_Errors(t *testing.T) {
	_, err := wms.ParseFeatureInfo(strings.NewReader(exceptionResponse))
	var ex *wms.ServiceException
	if !errors.As(err, &ex) {
		t.Fatalf("expected ServiceException, got %v", err)
	}
	if ex.Code != "LayerNotQueryable" || ex.Message != "Layer 0 is not queryable" {
		t.Errorf("unexpected exception %+v", ex)
	}

	if _, err := wms.ParseFeatureInfo(strings.NewReader(`<FeatureInfoResponse><broken`)); err == nil {
		t.Error("expected error for malformed XML")
	}
}

func TestClient_QueryParameters(t *testing.T) {
	var q map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(emptyResponse))
	}))
	defer srv.Close()

	svc := domain.ServiceDescriptor{Name: "ZEE", URL: srv.URL + "/arcgis/services/ZEE/MapServer/WMSServer?map=zee", Kind: domain.WMS}
	c := wms.NewClient(srv.Client(), nil, "")
	if _, err := c.Query(context.Background(), svc, site); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"SERVICE":      "WMS",
		"VERSION":      "1.3.0",
		"REQUEST":      "GetFeatureInfo",
		"LAYERS":       "0",
		"QUERY_LAYERS": "0",
		"CRS":          "EPSG:31983",
		"BBOX":         "190997,8240997,191003,8241003",
		"WIDTH":        "256",
		"HEIGHT":       "256",
		"I":            "128",
		"J":            "128",
		"INFO_FORMAT":  "text/xml",
		"map":          "zee",
	}
	for k, v := range want {
		if q[k] != v {
			t.Errorf("param %s = %q, want %q", k, q[k], v)
		}
	}
}

func TestClient_Query(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus domain.OutcomeStatus
		wantErr    string
	}{
		{name: "feature found", status: 200, body: fieldsResponse, wantStatus: domain.StatusIntersects},
		{name: "nothing found", status: 200, body: emptyResponse, wantStatus: domain.StatusClear},
		{name: "empty FIELDS", status: 200, body: `<FeatureInfoResponse><FIELDS/></FeatureInfoResponse>`, wantStatus: domain.StatusClear},
		{name: "server error", status: 500, body: "internal failure", wantErr: "internal failure"},
		{name: "service exception", status: 200, body: exceptionResponse, wantErr: "LayerNotQueryable"},
		{name: "malformed xml", status: 200, body: "<a><b></a>", wantErr: "unparseable response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			svc := domain.ServiceDescriptor{Name: "Parques", URL: srv.URL + "/wms", Kind: domain.WMS}
			out, err := wms.NewClient(srv.Client(), nil, "").Query(context.Background(), svc, site)

			if tt.wantErr != "" {
				var qe *domain.QueryError
				if !errors.As(err, &qe) {
					t.Fatalf("expected QueryError, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", out.Status, tt.wantStatus)
			}
			if out.Status == domain.StatusClear && out.Attributes != nil {
				t.Error("clear outcome must carry nil attributes")
			}
			if out.Status == domain.StatusIntersects && out.Attributes.Len() != 4 {
				t.Errorf("expected 4 attributes, got %d", out.Attributes.Len())
			}
		})
	}
}
