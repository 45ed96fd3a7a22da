package postgrestesting

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tripslake/lake/builder/pkg/postgres"
	"github.com/tripslake/lake/utils/pkg/retry"
)

// RawSchema is the schema the fixture migrations create.
const RawSchema = "raw"

//go:embed migrations/*.sql
var fixtureMigrations embed.FS

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// DB is a Postgres test container shared by the tests of a package.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	connStr   string
	container *tcpostgres.PostgresContainer
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	container, err := retry.DoValue(ctx, retry.DefaultConfig(), func() (*tcpostgres.PostgresContainer, error) {
		return tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		connStr:   connStr,
		container: container,
	}, nil
}

func (db *DB) ConnStr() string {
	return db.connStr
}

func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// TestDatabase is a fresh database with the raw fixture schema applied.
type TestDatabase struct {
	Name    string
	ConnStr string
	Pool    *pgxpool.Pool
}

// NewTestDatabase creates a uniquely named database in the shared container,
// applies the raw fixture migrations, and opens a single-connection pool on
// it. The database is dropped when the test ends.
func NewTestDatabase(t *testing.T, db *DB) *TestDatabase {
	t.Helper()
	ctx := t.Context()

	name := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	admin, err := pgx.Connect(ctx, db.connStr)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	require.NoError(t, err)
	require.NoError(t, admin.Close(ctx))

	connStr, err := withDatabase(db.connStr, name)
	require.NoError(t, err)

	sqlDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	migrations, err := fs.Sub(fixtureMigrations, "migrations")
	require.NoError(t, err)
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	require.NoError(t, err, "failed to create goose provider")
	_, err = provider.Up(ctx)
	require.NoError(t, err, "failed to apply raw fixtures")
	require.NoError(t, sqlDB.Close())

	pool, err := postgres.ConnectURL(ctx, db.log, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := pgx.Connect(dropCtx, db.connStr)
		if err != nil {
			db.log.Error("failed to connect to drop test database", "database", name, "error", err)
			return
		}
		defer conn.Close(dropCtx)
		if _, err := conn.Exec(dropCtx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)"); err != nil {
			db.log.Error("failed to drop test database", "database", name, "error", err)
		}
	})

	return &TestDatabase{Name: name, ConnStr: connStr, Pool: pool}
}

func withDatabase(connStr, database string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	u.Path = "/" + database
	return u.String(), nil
}

// Trip is one raw trip fixture row. Zero values are stored as-is.
type Trip struct {
	Vendor       int
	Pickup       time.Time
	Dropoff      time.Time
	Passengers   int
	Distance     float64
	RateCode     int
	PULocation   int
	DOLocation   int
	PaymentType  int
	Fare         float64
	Tip          float64
	Total        float64
	AirportFee   float64
	TripType     int
	RunTag       string
	SourceYear   int
	SourceMonth  int
	IngestedAt   time.Time
	StoreForward string
}

// NewTrip returns a plausible trip picked up in the given year and month.
func NewTrip(year, month int) Trip {
	pickup := time.Date(year, time.Month(month), 3, 8, 15, 0, 0, time.UTC)
	return Trip{
		Vendor:       2,
		Pickup:       pickup,
		Dropoff:      pickup.Add(30 * time.Minute),
		Passengers:   1,
		Distance:     6,
		RateCode:     1,
		PULocation:   161,
		DOLocation:   132,
		PaymentType:  1,
		Fare:         20,
		Tip:          5,
		Total:        25,
		TripType:     1,
		RunTag:       "fixture",
		SourceYear:   year,
		SourceMonth:  month,
		IngestedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		StoreForward: "N",
	}
}

// InsertTrips writes trips into the raw table of service ("yellow" or
// "green").
func InsertTrips(t *testing.T, pool *pgxpool.Pool, service string, trips ...Trip) {
	t.Helper()
	ctx := t.Context()

	var (
		table   string
		columns []string
		row     func(Trip) []any
	)
	switch service {
	case "yellow":
		table = "yellow_taxi_trip"
		columns = []string{"VendorID", "tpep_pickup_datetime", "tpep_dropoff_datetime", "passenger_count",
			"trip_distance", "RatecodeID", "store_and_fwd_flag", "PULocationID", "DOLocationID", "payment_type",
			"fare_amount", "tip_amount", "total_amount", "airport_fee", "run_tag", "source_year", "source_month",
			"ingested_at_utc"}
		row = func(tr Trip) []any {
			return []any{int32(tr.Vendor), tr.Pickup, tr.Dropoff, int32(tr.Passengers), tr.Distance,
				int32(tr.RateCode), tr.StoreForward, int32(tr.PULocation), int32(tr.DOLocation),
				int32(tr.PaymentType), tr.Fare, tr.Tip, tr.Total, tr.AirportFee, tr.RunTag,
				int32(tr.SourceYear), int32(tr.SourceMonth), tr.IngestedAt}
		}
	case "green":
		table = "green_taxi_trip"
		columns = []string{"VendorID", "lpep_pickup_datetime", "lpep_dropoff_datetime", "passenger_count",
			"trip_distance", "RatecodeID", "store_and_fwd_flag", "PULocationID", "DOLocationID", "payment_type",
			"fare_amount", "tip_amount", "total_amount", "trip_type", "run_tag", "source_year", "source_month",
			"ingested_at_utc"}
		row = func(tr Trip) []any {
			return []any{int32(tr.Vendor), tr.Pickup, tr.Dropoff, int32(tr.Passengers), tr.Distance,
				int32(tr.RateCode), tr.StoreForward, int32(tr.PULocation), int32(tr.DOLocation),
				int32(tr.PaymentType), tr.Fare, tr.Tip, tr.Total, int32(tr.TripType), tr.RunTag,
				int32(tr.SourceYear), int32(tr.SourceMonth), tr.IngestedAt}
		}
	default:
		t.Fatalf("no raw table for service %q", service)
	}

	rows := make([][]any, len(trips))
	for i, tr := range trips {
		rows[i] = row(tr)
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{RawSchema, table}, columns, pgx.CopyFromRows(rows))
	require.NoError(t, err)
	require.Equal(t, int64(len(trips)), n)
}

// SeedTrips inserts n copies of NewTrip(year, month) for every month in
// months.
func SeedTrips(t *testing.T, pool *pgxpool.Pool, service string, year int, n int, months ...int) {
	t.Helper()
	var trips []Trip
	for _, m := range months {
		for range n {
			trips = append(trips, NewTrip(year, m))
		}
	}
	InsertTrips(t, pool, service, trips...)
}
