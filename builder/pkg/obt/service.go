package obt

import (
	"fmt"
	"strings"
)

// Service identifies a taxi service whose raw trips feed the table.
type Service string

const (
	ServiceYellow Service = "yellow"
	ServiceGreen  Service = "green"
)

// KnownServices lists the services the query provider can read, in default
// processing order.
var KnownServices = []Service{ServiceYellow, ServiceGreen}

// ParseService returns the Service named by s and whether it is recognized.
func ParseService(s string) (Service, bool) {
	switch Service(s) {
	case ServiceYellow, ServiceGreen:
		return Service(s), true
	}
	return "", false
}

func (s Service) String() string {
	return string(s)
}

// ParseServiceList splits a comma-separated list, trimming and lowercasing
// entries and dropping blanks and duplicates while keeping order. Entries are
// not validated; unrecognized names are reported by the builders.
func ParseServiceList(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Years outside [MinYear, MaxYear] are rejected.
const (
	MinYear = 1900
	MaxYear = 9999
)

func checkYear(y int) error {
	if y < MinYear || y > MaxYear {
		return fmt.Errorf("year %d is outside %d-%d", y, MinYear, MaxYear)
	}
	return nil
}

// YearRange returns the inclusive range [start, end].
func YearRange(start, end int) ([]int, error) {
	if err := checkYear(start); err != nil {
		return nil, err
	}
	if err := checkYear(end); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("year start %d is after year end %d", start, end)
	}
	years := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, y)
	}
	return years, nil
}
