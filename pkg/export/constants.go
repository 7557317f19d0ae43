package export

const (
	KMLCoordFormat = "%.10f,%.10f,0"
	GPXPointFormat = `<trkpt lat="%.10f" lon="%.10f"></trkpt>`
	KMLSpace       = " "
	DefaultName    = "Feature"
	HTMLSeparator  = "<br>"
	GPXCreator     = "arcgis-siteprep"
)

// nameKeys are the properties tried, in order, to label a feature.
var nameKeys = []string{"name", "Name", "NAME", "ShortName", "title", "Title", "TITLE", "OBJECTID", "FID"}
