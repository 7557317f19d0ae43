package convert

const (
	// WKTColumn is the geometry column appended to CSV output.
	WKTColumn = "WKT_Geometry"
	// MinRingPoints is the smallest closed ring.
	MinRingPoints = 4
	// CRS84 names the coordinate system of exported GeoJSON.
	CRS84 = "urn:ogc:def:crs:OGC:1.3:CRS84"
)
