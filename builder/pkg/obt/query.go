package obt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Query is a parameterized extraction query producing rows in Columns order.
type Query struct {
	SQL     string
	Args    []any
	Service Service
	Years   []int
}

// sourceTable describes how one service's raw table maps onto Columns.
type sourceTable struct {
	table   string
	pickup  string
	dropoff string
	// overrides replaces the default t.<column> projection.
	overrides map[string]string
}

const (
	zoneLookupTable = "taxi_zone_lookup"
	srcAlias        = "t"
)

var sources = map[Service]sourceTable{
	ServiceYellow: {
		table:   "yellow_taxi_trip",
		pickup:  "tpep_pickup_datetime",
		dropoff: "tpep_dropoff_datetime",
		overrides: map[string]string{
			"trip_type": "NULL::INT",
		},
	},
	ServiceGreen: {
		table:   "green_taxi_trip",
		pickup:  "lpep_pickup_datetime",
		dropoff: "lpep_dropoff_datetime",
		overrides: map[string]string{
			"airport_fee": "NULL::DOUBLE PRECISION",
		},
	},
}

// QueryProvider builds extraction queries over the raw schema.
type QueryProvider struct {
	rawSchema string
}

func NewQueryProvider(rawSchema string) *QueryProvider {
	return &QueryProvider{rawSchema: rawSchema}
}

// QueryFor returns the extraction query for one service over the given years.
// It does not validate service; callers only pass recognized services, and an
// unknown one yields an empty Query.
func (p *QueryProvider) QueryFor(service Service, years []int) Query {
	src, ok := sources[service]
	if !ok {
		return Query{Service: service, Years: years}
	}

	exprs := src.projection(service)
	var b strings.Builder
	b.WriteString("SELECT\n")
	for i, c := range Columns {
		b.WriteString("  ")
		b.WriteString(exprs[c.Name])
		b.WriteString(" AS ")
		b.WriteString(pgx.Identifier{c.Name}.Sanitize())
		if i < len(Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	zones := pgx.Identifier{p.rawSchema, zoneLookupTable}.Sanitize()
	fmt.Fprintf(&b, "FROM %s %s\n", pgx.Identifier{p.rawSchema, src.table}.Sanitize(), srcAlias)
	fmt.Fprintf(&b, "LEFT JOIN %s zpu ON zpu.locationid = %s\n", zones, col("PULocationID"))
	fmt.Fprintf(&b, "LEFT JOIN %s zdo ON zdo.locationid = %s\n", zones, col("DOLocationID"))
	fmt.Fprintf(&b, "WHERE %s = ANY($1)", col("source_year"))

	yearArgs := make([]int32, len(years))
	for i, y := range years {
		yearArgs[i] = int32(y)
	}

	return Query{
		SQL:     b.String(),
		Args:    []any{yearArgs},
		Service: service,
		Years:   append([]int(nil), years...),
	}
}

// projection returns the select expression for every destination column.
func (s sourceTable) projection(service Service) map[string]string {
	pickup, dropoff := col(s.pickup), col(s.dropoff)
	elapsed := fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s))", dropoff, pickup)

	avgSpeed := fmt.Sprintf(
		"CASE WHEN %[1]s / 3600.0 > 0 THEN %[2]s / (%[1]s / 3600.0) ELSE NULL END",
		elapsed, col("trip_distance"),
	)

	exprs := map[string]string{
		"pickup_datetime":   pickup,
		"dropoff_datetime":  dropoff,
		"pickup_hour":       fmt.Sprintf("EXTRACT(HOUR FROM %s)::INT", pickup),
		"pickup_dow":        fmt.Sprintf("EXTRACT(DOW FROM %s)::INT", pickup),
		"month":             col("source_month"),
		"year":              col("source_year"),
		"pu_location_id":    col("PULocationID"),
		"pu_zone":           "zpu.zone",
		"pu_borough":        "zpu.borough",
		"do_location_id":    col("DOLocationID"),
		"do_zone":           "zdo.zone",
		"do_borough":        "zdo.borough",
		"service_type":      quoteLiteral(string(service)) + "::TEXT",
		"vendor_id":         col("VendorID"),
		"vendor_name":       caseExpr(col("VendorID"), vendorNames),
		"rate_code_id":      col("RatecodeID"),
		"rate_code_desc":    caseExpr(col("RatecodeID"), rateCodeDescriptions),
		"payment_type_desc": caseExpr(col("payment_type"), paymentTypeDescriptions),
		"trip_duration_min": fmt.Sprintf("GREATEST(%s / 60.0, 0)", elapsed),
		"avg_speed_mph":     avgSpeed,
		"tip_pct":           fmt.Sprintf("%s / NULLIF(%s, 0)", col("tip_amount"), col("total_amount")),
		"run_id":            col("run_tag"),
	}
	for name, expr := range s.overrides {
		exprs[name] = expr
	}
	for _, c := range Columns {
		if _, ok := exprs[c.Name]; !ok {
			exprs[c.Name] = col(c.Name)
		}
	}
	return exprs
}

// col qualifies a raw table column with the source alias.
func col(name string) string {
	return srcAlias + "." + pgx.Identifier{name}.Sanitize()
}

func caseExpr(subject string, codes []codeLabel) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(subject)
	for _, c := range codes {
		b.WriteString(" WHEN ")
		b.WriteString(strconv.Itoa(c.Code))
		b.WriteString(" THEN ")
		b.WriteString(quoteLiteral(c.Label))
	}
	b.WriteString(" ELSE ")
	b.WriteString(quoteLiteral(otherLabel))
	b.WriteString(" END")
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
