package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Durations reads Go duration strings ("30s", "5m") out of raw config
// fields, collecting every bad value so a single load reports them all at
// once instead of one per restart.
type Durations struct {
	errs []error
}

// Get parses the duration stored at the named field. Empty and zero values
// fall back to def; parse failures and negative values are recorded and def
// is returned so the caller can keep building the settings struct.
func (p *Durations) Get(field, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err))
		return def
	}
	if d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: duration must be >= 0", field))
		return def
	}
	if d == 0 {
		return def
	}
	return d
}

// Err reports every failure Get recorded, joined, or nil.
func (p *Durations) Err() error {
	return errors.Join(p.errs...)
}
