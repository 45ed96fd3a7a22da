package mirror_test

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tripslake/lake/builder/pkg/clickhouse"
	clickhousetesting "github.com/tripslake/lake/builder/pkg/clickhouse/testing"
	"github.com/tripslake/lake/builder/pkg/mirror"
	"github.com/tripslake/lake/builder/pkg/obt"
	postgrestesting "github.com/tripslake/lake/builder/pkg/postgres/testing"
	laketesting "github.com/tripslake/lake/utils/pkg/testing"
)

type fixture struct {
	pg      *postgrestesting.TestDatabase
	ch      clickhouse.Client
	mirror  *mirror.Mirror
	builder *obt.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if sharedPG == nil || sharedCH == nil {
		t.Skip("skipping container test in short mode")
	}
	log := laketesting.NewLogger()
	pg := postgrestesting.NewTestDatabase(t, sharedPG)
	ch := clickhousetesting.NewTestClient(t, sharedCH)

	store := obt.NewPostgresStore(pg.Pool, "analytics")
	m, err := mirror.New(mirror.Config{
		Logger:      log,
		Source:      pg.Pool,
		SourceTable: store.Table(),
		ClickHouse:  ch.Client,
		BatchSize:   3,
	})
	require.NoError(t, err)

	b, err := obt.New(obt.Config{
		Logger:  log,
		Clock:   clockwork.NewFakeClock(),
		Store:   store,
		Queries: obt.NewQueryProvider(postgrestesting.RawSchema),
		Mirror:  m,
	})
	require.NoError(t, err)

	postgrestesting.SeedTrips(t, pg.Pool, "yellow", 2022, 2, 1, 6)
	postgrestesting.SeedTrips(t, pg.Pool, "yellow", 2023, 3, 2, 3, 4)
	postgrestesting.SeedTrips(t, pg.Pool, "green", 2023, 2, 5)

	return &fixture{pg: pg, ch: ch.Client, mirror: m, builder: b}
}

func (f *fixture) mirrored(t *testing.T, year int, service obt.Service) int64 {
	t.Helper()
	n, err := f.mirror.CountPartition(t.Context(), obt.PartitionKey{Year: year, Service: service})
	require.NoError(t, err)
	return n
}

func TestLake_Mirror_ClickHouse(t *testing.T) {
	t.Parallel()

	t.Run("follows by-partition builds", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := obt.Request{Years: []int{2022, 2023}, Services: []string{"yellow", "green"}, Mode: obt.ModeByPartition}

		summary, err := f.builder.Run(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, int64(4), f.mirrored(t, 2022, obt.ServiceYellow))
		require.Equal(t, int64(9), f.mirrored(t, 2023, obt.ServiceYellow))
		require.Equal(t, int64(2), f.mirrored(t, 2023, obt.ServiceGreen))
		require.Zero(t, f.mirrored(t, 2022, obt.ServiceGreen))
		require.Equal(t, int64(9), summary.Units[2].MirroredRows)

		req.Overwrite = true
		_, err = f.builder.Run(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, int64(9), f.mirrored(t, 2023, obt.ServiceYellow), "replace does not duplicate")
	})

	t.Run("resyncs skipped partitions that drifted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := obt.Request{Years: []int{2023}, Services: []string{"yellow"}, Mode: obt.ModeByPartition}

		_, err := f.builder.Run(t.Context(), req)
		require.NoError(t, err)

		conn, err := f.ch.Conn(t.Context())
		require.NoError(t, err)
		require.NoError(t, conn.Exec(t.Context(), "ALTER TABLE obt_trips DROP PARTITION (2023, 'yellow')"))
		require.Zero(t, f.mirrored(t, 2023, obt.ServiceYellow))

		summary, err := f.builder.Run(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, obt.StatusSkipped, summary.Units[0].Status)
		require.Equal(t, int64(9), summary.Units[0].MirroredRows)
		require.Equal(t, int64(9), f.mirrored(t, 2023, obt.ServiceYellow))
	})

	t.Run("full overwrite truncates the mirror", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.builder.Run(t.Context(), obt.Request{Years: []int{2022}, Services: []string{"yellow"}, Mode: obt.ModeByPartition})
		require.NoError(t, err)
		require.Equal(t, int64(4), f.mirrored(t, 2022, obt.ServiceYellow))

		summary, err := f.builder.Run(t.Context(), obt.Request{Years: []int{2023}, Services: []string{"yellow", "green"}, Mode: obt.ModeFull, Overwrite: true})
		require.NoError(t, err)
		require.Zero(t, f.mirrored(t, 2022, obt.ServiceYellow))
		require.Equal(t, int64(9), f.mirrored(t, 2023, obt.ServiceYellow))
		require.Equal(t, int64(2), f.mirrored(t, 2023, obt.ServiceGreen))
		require.Equal(t, int64(9), summary.Units[0].MirroredRows)
	})

	t.Run("copies column values", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.builder.Run(t.Context(), obt.Request{Years: []int{2023}, Services: []string{"green"}, Mode: obt.ModeByPartition})
		require.NoError(t, err)

		conn, err := f.ch.Conn(t.Context())
		require.NoError(t, err)
		rows, err := conn.Query(t.Context(), `
			SELECT pu_zone, vendor_name, trip_type, airport_fee
			FROM obt_trips WHERE service_type = 'green' LIMIT 1
		`)
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var (
			zone, vendor *string
			tripType     *int32
			airportFee   *float64
		)
		require.NoError(t, rows.Scan(&zone, &vendor, &tripType, &airportFee))
		require.Equal(t, "Midtown Center", *zone)
		require.Equal(t, "Curb Mobility", *vendor)
		require.Equal(t, int32(1), *tripType)
		require.Nil(t, airportFee)
	})
}
