package config

import (
	"fmt"

	"github.com/tripslake/lake/builder/pkg/obt"
)

const (
	DefaultYearStart = 2022
	DefaultYearEnd   = 2024
	DefaultServices  = "yellow,green"
	DefaultRunID     = "manual"
)

// RunFlags holds the command-line options that describe one run.
type RunFlags struct {
	Mode      string
	YearStart int
	YearEnd   int
	Services  string
	RunID     string
	Overwrite bool
}

// Request validates the flags and builds the run descriptor. Services are
// lowercased and deduplicated but not checked against the known set; unknown
// names are reported per unit by the builder.
func (f RunFlags) Request() (obt.Request, error) {
	mode, err := obt.ParseMode(f.Mode)
	if err != nil {
		return obt.Request{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	years, err := obt.YearRange(f.YearStart, f.YearEnd)
	if err != nil {
		return obt.Request{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	services := obt.ParseServiceList(f.Services)
	if len(services) == 0 {
		return obt.Request{}, fmt.Errorf("%w: at least one service is required", ErrInvalid)
	}
	runID := f.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	return obt.Request{
		Years:     years,
		Services:  services,
		Mode:      mode,
		RunID:     runID,
		Overwrite: f.Overwrite,
	}, nil
}
