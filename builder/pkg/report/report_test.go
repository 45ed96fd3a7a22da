package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tripslake/lake/builder/pkg/metrics"
	"github.com/tripslake/lake/builder/pkg/obt"
	laketesting "github.com/tripslake/lake/utils/pkg/testing"
)

func newTestReporter(t *testing.T, progress bool) (*Reporter, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, bar bytes.Buffer
	cfg := Config{
		Logger: laketesting.NewLogger(),
		Out:    &out,
		Clock:  clockwork.NewFakeClock(),
	}
	if progress {
		cfg.ProgressOut = &bar
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r, &out, &bar
}

func sampleSummary() *obt.Summary {
	s := &obt.Summary{
		Request:  obt.Request{Years: []int{2023}, Services: []string{"yellow", "green", "fhv"}, Mode: obt.ModeByPartition, RunID: "nightly"},
		Duration: 75 * time.Second,
	}
	units := []obt.UnitResult{
		{Key: obt.PartitionKey{Year: 2023, Service: obt.ServiceYellow}, ServiceName: "yellow", Years: []int{2023},
			Status: obt.StatusReplaced, ExistingRows: 1_500_000, DeletedRows: 1_500_000, InsertedRows: 1_234_567, Duration: 61500 * time.Millisecond},
		{Key: obt.PartitionKey{Year: 2023, Service: obt.ServiceGreen}, ServiceName: "green", Years: []int{2023},
			Status: obt.StatusSkipped, ExistingRows: 42_000, Duration: 10 * time.Millisecond},
		{Key: obt.PartitionKey{Year: 2023, Service: "fhv"}, ServiceName: "fhv", Years: []int{2023},
			Status: obt.StatusUnrecognized},
	}
	for _, u := range units {
		s.Units = append(s.Units, u)
		s.InsertedRows += u.InsertedRows
		s.DeletedRows += u.DeletedRows
	}
	return s
}

func TestLake_Report_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Out: &bytes.Buffer{}})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: laketesting.NewLogger()})
	require.ErrorContains(t, err, "output writer is required")

	r, err := New(Config{Logger: laketesting.NewLogger(), Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NotNil(t, r.cfg.Clock)
}

func TestLake_Report_RunStarted(t *testing.T) {
	t.Parallel()

	t.Run("prints the run header", func(t *testing.T) {
		t.Parallel()
		r, out, _ := newTestReporter(t, false)
		r.RunStarted(obt.Request{Years: []int{2022, 2023, 2024}, Services: []string{"yellow", "green"}, Mode: obt.ModeFull, RunID: "manual", Overwrite: true}, 2)

		s := out.String()
		require.Contains(t, s, "Starting OBT build - mode FULL")
		require.Contains(t, s, "Years:     2022-2024")
		require.Contains(t, s, "Services:  yellow, green")
		require.Contains(t, s, "Run ID:    manual")
		require.Contains(t, s, "Overwrite: true")
	})

	t.Run("renders a progress bar over units", func(t *testing.T) {
		t.Parallel()
		r, _, bar := newTestReporter(t, true)
		r.RunStarted(obt.Request{Years: []int{2023}, Services: []string{"yellow"}, Mode: obt.ModeByPartition}, 1)
		r.UnitFinished(obt.UnitResult{ServiceName: "yellow", Years: []int{2023}, Status: obt.StatusInserted})
		r.RunFinished(obt.ModeByPartition, &obt.Summary{}, nil)
		require.Contains(t, bar.String(), "Building")
		require.Contains(t, bar.String(), "1/1")
	})
}

func TestLake_Report_PrintConnection(t *testing.T) {
	t.Parallel()
	r, out, _ := newTestReporter(t, false)
	r.PrintConnection("db.internal:5432", "taxi", "builder")
	require.Contains(t, out.String(), "Host: db.internal:5432")
	require.Contains(t, out.String(), "Database: taxi")
	require.Contains(t, out.String(), "User: builder")
}

func TestLake_Report_PrintSummary(t *testing.T) {
	t.Parallel()

	t.Run("units and totals", func(t *testing.T) {
		t.Parallel()
		r, out, _ := newTestReporter(t, false)
		require.NoError(t, r.PrintSummary(sampleSummary(), nil, nil))

		s := out.String()
		require.Contains(t, s, "BUILD COMPLETE")
		require.Contains(t, s, "2023/yellow")
		require.Contains(t, s, "REPLACED")
		require.Contains(t, s, "1,234,567")
		require.Contains(t, s, "61.50s")
		require.Contains(t, s, "2023/fhv")
		require.Contains(t, s, "UNRECOGNIZED")
		require.Contains(t, s, "Units:          3 (inserted 0, replaced 1, skipped 1, unrecognized 1)")
		require.Contains(t, s, "Rows inserted:  1,234,567")
		require.Contains(t, s, "Rows deleted:   1,500,000")
		require.Contains(t, s, "Total duration: 75.00s")
		require.NotContains(t, s, "Summary by service")
	})

	t.Run("failed run", func(t *testing.T) {
		t.Parallel()
		r, out, _ := newTestReporter(t, false)
		require.NoError(t, r.PrintSummary(&obt.Summary{}, nil, errors.New("boom")))
		require.Contains(t, out.String(), "BUILD FAILED")
		require.NotContains(t, out.String(), "UNIT")
	})

	t.Run("inventory", func(t *testing.T) {
		t.Parallel()
		r, out, _ := newTestReporter(t, false)
		inv := []obt.PartitionCount{
			{Year: 2022, Service: "green", Rows: 800, MinMonth: 1, MaxMonth: 12},
			{Year: 2022, Service: "yellow", Rows: 39_656_098, MinMonth: 1, MaxMonth: 12},
			{Year: 2023, Service: "yellow", Rows: 38_310_226, MinMonth: 1, MaxMonth: 9},
		}
		require.NoError(t, r.PrintSummary(&obt.Summary{Truncated: true}, inv, nil))

		s := out.String()
		require.Contains(t, s, "Truncated:      yes")
		require.Contains(t, s, "Summary by service:")
		require.Contains(t, s, "77,966,324")
		require.Contains(t, s, "Summary by year:")
		lines := strings.Split(s, "\n")
		var yearRows []string
		for _, l := range lines {
			if strings.HasPrefix(l, "2022 ") || strings.HasPrefix(l, "2023 ") {
				yearRows = append(yearRows, strings.Join(strings.Fields(l), " "))
			}
		}
		require.Equal(t, []string{"2022 green 800", "2022 yellow 39,656,098", "2023 yellow 38,310,226"}, yearRows)
	})
}

func TestLake_Report_ByService(t *testing.T) {
	t.Parallel()

	got := ByService([]obt.PartitionCount{
		{Year: 2023, Service: "yellow", Rows: 10, MinMonth: 2, MaxMonth: 9},
		{Year: 2022, Service: "green", Rows: 1, MinMonth: 3, MaxMonth: 3},
		{Year: 2022, Service: "yellow", Rows: 5, MinMonth: 1, MaxMonth: 6},
		{Year: 2024, Service: "yellow", Rows: 7, MinMonth: 4, MaxMonth: 4},
	})
	require.Equal(t, []ServiceTotals{
		{Service: "green", Rows: 1, MinYear: 2022, MaxYear: 2022, MinMonth: 3, MaxMonth: 3},
		{Service: "yellow", Rows: 22, MinYear: 2022, MaxYear: 2024, MinMonth: 1, MaxMonth: 9},
	}, got)
	require.Empty(t, ByService(nil))
}

func TestLake_Report_Format(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", FormatCount(0))
	require.Equal(t, "999", FormatCount(999))
	require.Equal(t, "1,000", FormatCount(1000))
	require.Equal(t, "12,345,678", FormatCount(12_345_678))
	require.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	require.Equal(t, "0.00s", FormatDuration(0))

	require.Equal(t, "-", formatYears(nil))
	require.Equal(t, "2023", formatYears([]int{2023}))
	require.Equal(t, "2022-2024", formatYears([]int{2022, 2023, 2024}))
	require.Equal(t, "2019,2023", formatYears([]int{2019, 2023}))
}

// Not parallel: metrics are process-wide.
func TestLake_Report_Metrics(t *testing.T) {
	r, _, _ := newTestReporter(t, false)

	inserted := testutil.ToFloat64(metrics.UnitsTotal.WithLabelValues("by-partition", "INSERTED"))
	rows := testutil.ToFloat64(metrics.RowsInsertedTotal.WithLabelValues("green"))
	mirrored := testutil.ToFloat64(metrics.RowsMirroredTotal.WithLabelValues("green"))
	failedRuns := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("by-partition", "error"))
	queryErrors := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("query"))

	r.RunStarted(obt.Request{Years: []int{2023}, Services: []string{"green"}, Mode: obt.ModeByPartition}, 2)
	r.UnitFinished(obt.UnitResult{ServiceName: "green", Status: obt.StatusInserted, InsertedRows: 25, MirroredRows: 25})
	r.UnitFinished(obt.UnitResult{ServiceName: "green", Status: obt.StatusSkipped, ExistingRows: 40})
	r.RunFinished(obt.ModeByPartition, &obt.Summary{}, errors.New(`ERROR: relation "raw.green_taxi_trip" does not exist (SQLSTATE 42P01)`))

	require.Equal(t, inserted+1, testutil.ToFloat64(metrics.UnitsTotal.WithLabelValues("by-partition", "INSERTED")))
	require.Equal(t, rows+25, testutil.ToFloat64(metrics.RowsInsertedTotal.WithLabelValues("green")))
	require.Equal(t, mirrored+25, testutil.ToFloat64(metrics.RowsMirroredTotal.WithLabelValues("green")))
	require.Equal(t, failedRuns+1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("by-partition", "error")))
	require.Equal(t, queryErrors+1, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("query")))
}
