package wms

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// ServiceException is an OGC exception report returned in place of feature info.
type ServiceException struct {
	Code    string
	Message string
}

func (e *ServiceException) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("service exception %s: %s", e.Code, e.Message)
	}
	return "service exception: " + e.Message
}

// esriFeatureInfo is the text/xml layout of ArcGIS Server WMS 1.3.0.
type esriFeatureInfo struct {
	Fields []struct {
		Name  string `xml:"FieldName"`
		Value string `xml:"FieldValue"`
	} `xml:"Field"`
}

// node is a generic element used to walk GML feature members.
type node struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
	Nodes   []node `xml:",any"`
}

// ParseFeatureInfo extracts the first feature's fields from a GetFeatureInfo
// XML response. It recognises, in order of appearance:
//
//   - a FIELDS element whose XML attributes are the feature's fields; an
//     empty FIELDS element carries no feature
//   - an Esri FeatureInfo element with Field/FieldName/FieldValue children
//   - a GML featureMember or member wrapping a feature with simple children
//
// A nil result with a nil error means no feature was found.
func ParseFeatureInfo(r io.Reader) (*domain.Attributes, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse feature info: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch local := se.Name.Local; {
		case strings.EqualFold(local, "FIELDS"):
			attrs := domain.NewAttributes()
			for _, a := range se.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				attrs.Set(a.Name.Local, domain.String(a.Value))
			}
			if attrs.Len() == 0 {
				continue
			}
			return attrs, nil

		case local == "FeatureInfo":
			var fi esriFeatureInfo
			if err := dec.DecodeElement(&fi, &se); err != nil {
				return nil, fmt.Errorf("parse feature info: %w", err)
			}
			if len(fi.Fields) == 0 {
				continue
			}
			attrs := domain.NewAttributes()
			for _, f := range fi.Fields {
				attrs.Set(f.Name, domain.String(f.Value))
			}
			return attrs, nil

		case local == "featureMember" || local == "member":
			var member node
			if err := dec.DecodeElement(&member, &se); err != nil {
				return nil, fmt.Errorf("parse feature member: %w", err)
			}
			if attrs := simpleFields(member); attrs != nil {
				return attrs, nil
			}

		case local == "ServiceException":
			var text string
			if err := dec.DecodeElement(&text, &se); err != nil {
				return nil, fmt.Errorf("parse service exception: %w", err)
			}
			ex := &ServiceException{Message: strings.TrimSpace(text)}
			for _, a := range se.Attr {
				if a.Name.Local == "code" {
					ex.Code = a.Value
				}
			}
			return nil, ex
		}
	}
}

// simpleFields reads the leaf children of the feature wrapped by member.
// Children with nested elements, such as geometries, are skipped.
func simpleFields(member node) *domain.Attributes {
	if len(member.Nodes) == 0 {
		return nil
	}
	feature := member.Nodes[0]
	attrs := domain.NewAttributes()
	for _, child := range feature.Nodes {
		if len(child.Nodes) > 0 {
			continue
		}
		attrs.Set(child.XMLName.Local, domain.String(strings.TrimSpace(child.Content)))
	}
	if attrs.Len() == 0 {
		return nil
	}
	return attrs
}
