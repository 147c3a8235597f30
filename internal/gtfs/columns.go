package gtfs

// columnTypes lists every GTFS reference column whose type is not text.
// Columns not listed here, including ones the reference does not define,
// load as text.
var columnTypes = map[string]map[string]SemanticType{
	"stops": {
		"stop_lat":            TypeFloat,
		"stop_lon":            TypeFloat,
		"location_type":       TypeInteger,
		"wheelchair_boarding": TypeInteger,
	},
	"routes": {
		"route_type":          TypeInteger,
		"route_sort_order":    TypeInteger,
		"continuous_pickup":   TypeInteger,
		"continuous_drop_off": TypeInteger,
	},
	"trips": {
		"direction_id":          TypeInteger,
		"wheelchair_accessible": TypeInteger,
		"bikes_allowed":         TypeInteger,
	},
	"stop_times": {
		"arrival_time":        TypeTimeOffset,
		"departure_time":      TypeTimeOffset,
		"stop_sequence":       TypeInteger,
		"pickup_type":         TypeInteger,
		"drop_off_type":       TypeInteger,
		"continuous_pickup":   TypeInteger,
		"continuous_drop_off": TypeInteger,
		"shape_dist_traveled": TypeFloat,
		"timepoint":           TypeInteger,
	},
	"calendar": {
		"monday":     TypeInteger,
		"tuesday":    TypeInteger,
		"wednesday":  TypeInteger,
		"thursday":   TypeInteger,
		"friday":     TypeInteger,
		"saturday":   TypeInteger,
		"sunday":     TypeInteger,
		"start_date": TypeDate,
		"end_date":   TypeDate,
	},
	"calendar_dates": {
		"date":           TypeDate,
		"exception_type": TypeInteger,
	},
	"shapes": {
		"shape_pt_lat":        TypeFloat,
		"shape_pt_lon":        TypeFloat,
		"shape_pt_sequence":   TypeInteger,
		"shape_dist_traveled": TypeFloat,
	},
	"frequencies": {
		"start_time":   TypeTimeOffset,
		"end_time":     TypeTimeOffset,
		"headway_secs": TypeInteger,
		"exact_times":  TypeInteger,
	},
	"transfers": {
		"transfer_type":     TypeInteger,
		"min_transfer_time": TypeInteger,
	},
	"feed_info": {
		"feed_start_date": TypeDate,
		"feed_end_date":   TypeDate,
	},
	"fare_attributes": {
		"price":             TypeFloat,
		"payment_method":    TypeInteger,
		"transfers":         TypeInteger,
		"transfer_duration": TypeInteger,
	},
}

// ColumnType returns the fixed semantic type of a column.
func ColumnType(table, column string) SemanticType {
	if typ, ok := columnTypes[table][column]; ok {
		return typ
	}
	return TypeText
}
