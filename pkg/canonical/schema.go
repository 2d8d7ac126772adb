package canonical

// Column describes one canonical table column. All SQL issued by the
// DuckDB store is assembled from this fixed definition; row values travel
// through prepared-statement parameters, never string interpolation.
type Column struct {
	Name string
	Type string
}

// Columns is the canonical trip schema, in table order. row_key is the
// merge key and is unique within the table.
var Columns = []Column{
	{"row_key", "VARCHAR"},
	{"source_file", "VARCHAR"},
	{"vendor_id", "INTEGER"},
	{"pickup_datetime", "TIMESTAMP"},
	{"dropoff_datetime", "TIMESTAMP"},
	{"store_and_fwd_flag", "VARCHAR"},
	{"ratecode_id", "INTEGER"},
	{"pu_location_id", "INTEGER"},
	{"do_location_id", "INTEGER"},
	{"passenger_count", "INTEGER"},
	{"trip_distance", "DOUBLE"},
	{"fare_amount", "DOUBLE"},
	{"extra", "DOUBLE"},
	{"mta_tax", "DOUBLE"},
	{"tip_amount", "DOUBLE"},
	{"tolls_amount", "DOUBLE"},
	{"improvement_surcharge", "DOUBLE"},
	{"total_amount", "DOUBLE"},
	{"payment_type", "INTEGER"},
	{"congestion_surcharge", "DOUBLE"},
}

// ColumnNames returns the schema's column names in table order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}
