package arcgis

const (
	ServiceFeatureServer = "FeatureServer"
	ServiceMapServer     = "MapServer"

	GeometryPoint      = "esriGeometryPoint"
	GeometryMultipoint = "esriGeometryMultipoint"
	GeometryPolyline   = "esriGeometryPolyline"
	GeometryPolygon    = "esriGeometryPolygon"
	GeometryEnvelope   = "esriGeometryEnvelope"

	SpatialRelIntersects = "esriSpatialRelIntersects"
	SpatialRelContains   = "esriSpatialRelContains"
	SpatialRelWithin     = "esriSpatialRelWithin"

	// WGS84 is the spatial reference used for every exchange with services.
	WGS84 = 4326
	// DefaultObjectIDField is assumed when a service omits objectIdFieldName.
	DefaultObjectIDField = "OBJECTID"
	// FeatureLayerType is the metadata type of queryable layers.
	FeatureLayerType = "Feature Layer"
)
