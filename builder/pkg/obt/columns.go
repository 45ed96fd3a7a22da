package obt

// ColumnType is the logical type of a destination column.
type ColumnType int

const (
	TypeTimestamp ColumnType = iota
	TypeInt
	TypeFloat
	TypeText
)

// PostgresType returns the Postgres column type.
func (t ColumnType) PostgresType() string {
	switch t {
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

type Column struct {
	Name string
	Type ColumnType
}

// TableName is the destination table inside the analytics schema.
const TableName = "obt_trips"

// Columns is the destination column set, in table order. Every service query
// projects exactly these columns in this order.
var Columns = []Column{
	{"pickup_datetime", TypeTimestamp},
	{"dropoff_datetime", TypeTimestamp},
	{"pickup_hour", TypeInt},
	{"pickup_dow", TypeInt},
	{"month", TypeInt},
	{"year", TypeInt},
	{"pu_location_id", TypeInt},
	{"pu_zone", TypeText},
	{"pu_borough", TypeText},
	{"do_location_id", TypeInt},
	{"do_zone", TypeText},
	{"do_borough", TypeText},
	{"service_type", TypeText},
	{"vendor_id", TypeInt},
	{"vendor_name", TypeText},
	{"rate_code_id", TypeInt},
	{"rate_code_desc", TypeText},
	{"payment_type", TypeInt},
	{"payment_type_desc", TypeText},
	{"trip_type", TypeInt},
	{"passenger_count", TypeInt},
	{"trip_distance", TypeFloat},
	{"fare_amount", TypeFloat},
	{"extra", TypeFloat},
	{"mta_tax", TypeFloat},
	{"tip_amount", TypeFloat},
	{"tolls_amount", TypeFloat},
	{"improvement_surcharge", TypeFloat},
	{"congestion_surcharge", TypeFloat},
	{"cbd_congestion_fee", TypeFloat},
	{"airport_fee", TypeFloat},
	{"total_amount", TypeFloat},
	{"store_and_fwd_flag", TypeText},
	{"trip_duration_min", TypeFloat},
	{"avg_speed_mph", TypeFloat},
	{"tip_pct", TypeFloat},
	{"run_id", TypeText},
	{"source_year", TypeInt},
	{"source_month", TypeInt},
	{"ingested_at_utc", TypeTimestamp},
}

// ColumnNames returns the names of Columns in order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// codeLabel maps a numeric source code to its description.
type codeLabel struct {
	Code  int
	Label string
}

const otherLabel = "Other"

var vendorNames = []codeLabel{
	{1, "Creative Mobile Technologies"},
	{2, "Curb Mobility"},
	{6, "Myle Technologies"},
	{7, "Helix"},
}

var rateCodeDescriptions = []codeLabel{
	{1, "Standard rate"},
	{2, "JFK"},
	{3, "Newark"},
	{4, "Nassau/Westchester"},
	{5, "Negotiated fare"},
	{6, "Group ride"},
}

var paymentTypeDescriptions = []codeLabel{
	{0, "Flex Fare trip"},
	{1, "Credit card"},
	{2, "Cash"},
	{3, "No charge"},
	{4, "Dispute"},
	{5, "Unknown"},
	{6, "Voided trip"},
}
