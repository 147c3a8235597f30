package ingest

import (
	"math"

	"github.com/tidwall/geojson"
	"github.com/tidwall/geojson/geometry"

	"github.com/transitql/transitql/internal/gtfs"
)

// feedExtent returns the GeoJSON bounding box of all stops with valid
// coordinates: a Polygon, a Point when every stop shares one position, or ""
// when no stop is locatable.
func feedExtent(tables []gtfs.Table) string {
	for _, table := range tables {
		if table.Schema.Name != "stops" {
			continue
		}
		latIdx, lonIdx := columnIndex(table.Schema, "stop_lat"), columnIndex(table.Schema, "stop_lon")
		if latIdx < 0 || lonIdx < 0 {
			return ""
		}

		bounds := geometry.Rect{
			Min: geometry.Point{X: math.Inf(1), Y: math.Inf(1)},
			Max: geometry.Point{X: math.Inf(-1), Y: math.Inf(-1)},
		}
		found := false
		for _, row := range table.Rows {
			lat, okLat := row[latIdx].(float64)
			lon, okLon := row[lonIdx].(float64)
			if !okLat || !okLon || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				continue
			}
			found = true
			bounds.Min.X = math.Min(bounds.Min.X, lon)
			bounds.Min.Y = math.Min(bounds.Min.Y, lat)
			bounds.Max.X = math.Max(bounds.Max.X, lon)
			bounds.Max.Y = math.Max(bounds.Max.Y, lat)
		}
		if !found {
			return ""
		}
		if bounds.Min == bounds.Max {
			return geojson.NewPoint(bounds.Min).JSON()
		}
		return geojson.NewRect(bounds).JSON()
	}
	return ""
}

func columnIndex(schema gtfs.TableSchema, name string) int {
	for i, column := range schema.Columns {
		if column.Name == name {
			return i
		}
	}
	return -1
}
