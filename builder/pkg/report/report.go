// Package report prints run progress and summaries and records run metrics.
// It never writes to the database.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tripslake/lake/builder/pkg/metrics"
	"github.com/tripslake/lake/builder/pkg/obt"
	"github.com/tripslake/lake/utils/pkg/dberror"
)

const rule = "============================================================"

var printer = message.NewPrinter(language.English)

type Config struct {
	Logger *slog.Logger
	// Out receives the run header and summary.
	Out   io.Writer
	Clock clockwork.Clock
	// ProgressOut receives the progress bar. Nil disables it.
	ProgressOut io.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Reporter implements obt.Observer.
type Reporter struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	mode    obt.Mode
	started time.Time
	bar     *progressbar.ProgressBar
}

var _ obt.Observer = (*Reporter)(nil)

func New(cfg Config) (*Reporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reporter{log: cfg.Logger, cfg: cfg}, nil
}

// PrintConnection prints the connection banner. The password is never shown.
func (r *Reporter) PrintConnection(addr, database, user string) {
	fmt.Fprintf(r.cfg.Out, "\nConnecting to PostgreSQL...\n")
	fmt.Fprintf(r.cfg.Out, "   Host: %s\n", addr)
	fmt.Fprintf(r.cfg.Out, "   Database: %s\n", database)
	fmt.Fprintf(r.cfg.Out, "   User: %s\n", user)
}

func (r *Reporter) RunStarted(req obt.Request, units int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = req.Mode
	r.started = r.cfg.Clock.Now()

	fmt.Fprintf(r.cfg.Out, "\n%s\n", rule)
	fmt.Fprintf(r.cfg.Out, "Starting OBT build - mode %s\n", strings.ToUpper(string(req.Mode)))
	fmt.Fprintf(r.cfg.Out, "%s\n", rule)
	fmt.Fprintf(r.cfg.Out, "Years:     %s\n", formatYears(req.Years))
	fmt.Fprintf(r.cfg.Out, "Services:  %s\n", strings.Join(req.Services, ", "))
	fmt.Fprintf(r.cfg.Out, "Run ID:    %s\n", req.RunID)
	fmt.Fprintf(r.cfg.Out, "Overwrite: %t\n", req.Overwrite)
	fmt.Fprintf(r.cfg.Out, "Units:     %d\n", units)
	fmt.Fprintf(r.cfg.Out, "%s\n\n", rule)

	if r.cfg.ProgressOut != nil && units > 0 {
		r.bar = progressbar.NewOptions(units,
			progressbar.OptionSetWriter(r.cfg.ProgressOut),
			progressbar.OptionSetDescription("Building"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetItsString("units"),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(r.cfg.ProgressOut)
			}),
		)
	}
}

func (r *Reporter) UnitFinished(res obt.UnitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := string(r.mode)
	metrics.UnitsTotal.WithLabelValues(mode, string(res.Status)).Inc()
	metrics.UnitDuration.WithLabelValues(mode, res.ServiceName).Observe(res.Duration.Seconds())
	if res.Status == obt.StatusInserted || res.Status == obt.StatusReplaced {
		metrics.RowsInsertedTotal.WithLabelValues(res.ServiceName).Add(float64(res.InsertedRows))
		metrics.RowsDeletedTotal.WithLabelValues(res.ServiceName).Add(float64(res.DeletedRows))
	}
	if res.MirroredRows > 0 {
		metrics.RowsMirroredTotal.WithLabelValues(res.ServiceName).Add(float64(res.MirroredRows))
	}

	r.log.Debug("report: unit finished", "unit", unitLabel(res), "status", res.Status, "duration", res.Duration)
	if r.bar != nil {
		_ = r.bar.Add(1)
	}
}

// RunFinished records run metrics and closes the progress bar. summary may
// be nil when the run failed before any unit started.
func (r *Reporter) RunFinished(mode obt.Mode, summary *obt.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}

	duration := r.cfg.Clock.Since(r.started)
	if summary != nil {
		duration = summary.Duration
	}
	metrics.RunDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())

	status := "success"
	if err != nil {
		status = "error"
		metrics.ErrorsTotal.WithLabelValues(dberror.Classify(err).String()).Inc()
	}
	metrics.RunsTotal.WithLabelValues(string(mode), status).Inc()
}

// PrintSummary prints the unit table, the totals and the partition
// inventory. inventory may be nil when it could not be read.
func (r *Reporter) PrintSummary(summary *obt.Summary, inventory []obt.PartitionCount, runErr error) error {
	out := r.cfg.Out

	title := "BUILD COMPLETE"
	if runErr != nil {
		title = "BUILD FAILED"
	}
	fmt.Fprintf(out, "\n%s\n %s\n%s\n", rule, title, rule)

	if len(summary.Units) > 0 {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "UNIT\tSTATUS\tEXISTING\tDELETED\tINSERTED\tMIRRORED\tDURATION")
		for _, u := range summary.Units {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				unitLabel(u), u.Status,
				FormatCount(u.ExistingRows), FormatCount(u.DeletedRows),
				FormatCount(u.InsertedRows), FormatCount(u.MirroredRows),
				FormatDuration(u.Duration))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to write unit table: %w", err)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Units:          %d (inserted %d, replaced %d, skipped %d, unrecognized %d)\n",
		len(summary.Units),
		summary.Count(obt.StatusInserted),
		summary.Count(obt.StatusReplaced),
		summary.Count(obt.StatusSkipped),
		summary.Count(obt.StatusUnrecognized))
	if summary.Truncated {
		fmt.Fprintln(out, "Truncated:      yes")
	}
	fmt.Fprintf(out, "Rows inserted:  %s\n", FormatCount(summary.InsertedRows))
	fmt.Fprintf(out, "Rows deleted:   %s\n", FormatCount(summary.DeletedRows))
	fmt.Fprintf(out, "Total duration: %s\n", FormatDuration(summary.Duration))
	fmt.Fprintf(out, "%s\n", rule)

	if inventory == nil {
		return nil
	}

	fmt.Fprintln(out, "\nSummary by service:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tROWS\tMIN YEAR\tMAX YEAR\tMIN MONTH\tMAX MONTH")
	for _, s := range ByService(inventory) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			s.Service, FormatCount(s.Rows), s.MinYear, s.MaxYear, s.MinMonth, s.MaxMonth)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write service summary: %w", err)
	}

	fmt.Fprintln(out, "\nSummary by year:")
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tSERVICE\tROWS")
	for _, p := range inventory {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Year, p.Service, FormatCount(p.Rows))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write year summary: %w", err)
	}
	return nil
}

// ServiceTotals aggregates the inventory of one service.
type ServiceTotals struct {
	Service  string
	Rows     int64
	MinYear  int
	MaxYear  int
	MinMonth int
	MaxMonth int
}

// ByService folds a per-partition inventory into per-service totals, ordered
// by service name.
func ByService(inventory []obt.PartitionCount) []ServiceTotals {
	byName := make(map[string]*ServiceTotals)
	for _, p := range inventory {
		s, ok := byName[p.Service]
		if !ok {
			s = &ServiceTotals{
				Service:  p.Service,
				MinYear:  p.Year,
				MaxYear:  p.Year,
				MinMonth: p.MinMonth,
				MaxMonth: p.MaxMonth,
			}
			byName[p.Service] = s
		}
		s.Rows += p.Rows
		s.MinYear = min(s.MinYear, p.Year)
		s.MaxYear = max(s.MaxYear, p.Year)
		s.MinMonth = min(s.MinMonth, p.MinMonth)
		s.MaxMonth = max(s.MaxMonth, p.MaxMonth)
	}

	out := make([]ServiceTotals, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// FormatCount formats n with thousands separators.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// FormatDuration formats d as seconds with two decimals.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func unitLabel(u obt.UnitResult) string {
	return formatYears(u.Years) + "/" + u.ServiceName
}

// formatYears renders a contiguous range as "2022-2024".
func formatYears(years []int) string {
	switch len(years) {
	case 0:
		return "-"
	case 1:
		return fmt.Sprint(years[0])
	}
	contiguous := true
	for i := 1; i < len(years); i++ {
		if years[i] != years[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d-%d", years[0], years[len(years)-1])
	}
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = fmt.Sprint(y)
	}
	return strings.Join(parts, ",")
}
