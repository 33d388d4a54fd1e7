package telemetry

// Span and attribute names used for instrumentation.
const (
	SpanRound = "incidence.round"
	SpanQuery = "incidence.query"

	AttrService      = "incidence.service"
	AttrKind         = "incidence.kind"
	AttrStatus       = "incidence.status"
	AttrTotal        = "incidence.services_total"
	AttrIntersecting = "incidence.intersecting"
	AttrFailed       = "incidence.failed"
	AttrEasting      = "incidence.easting"
	AttrNorthing     = "incidence.northing"
)

// TracerName is the instrumentation scope for spans opened by this module.
const TracerName = "github.com/samirrijal/geoincidence"
