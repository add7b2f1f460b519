// Package recurring detects recurring bills, schedules their expected instances,
// matches incoming documents against them and handles the deletion lifecycle.
package recurring

import (
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

// Config holds the engine's tunables.
type Config struct {
	// Now returns the current time. Tests pin it.
	Now                  func() time.Time
	ReminderOffsets      []int
	Retry                common.RetryOptions
	SnoozeDuration       time.Duration
	FuzzyLowerBound      float64
	FuzzyUpperBound      float64
	MinDocumentCount     int
	DefaultToleranceDays int
	MonthsAhead          int
	Workers              int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Now:                  time.Now,
		MinDocumentCount:     2,
		DefaultToleranceDays: 3,
		MonthsAhead:          3,
		FuzzyLowerBound:      0.25,
		FuzzyUpperBound:      0.60,
		SnoozeDuration:       30 * 24 * time.Hour,
		ReminderOffsets:      []int{3, 1, 0},
		Workers:              4,
		Retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.MinDocumentCount <= 0 {
		c.MinDocumentCount = d.MinDocumentCount
	}
	if c.DefaultToleranceDays < 0 {
		c.DefaultToleranceDays = d.DefaultToleranceDays
	}
	if c.MonthsAhead <= 0 {
		c.MonthsAhead = d.MonthsAhead
	}
	if c.FuzzyLowerBound <= 0 || c.FuzzyUpperBound <= c.FuzzyLowerBound {
		c.FuzzyLowerBound = d.FuzzyLowerBound
		c.FuzzyUpperBound = d.FuzzyUpperBound
	}
	if c.SnoozeDuration <= 0 {
		c.SnoozeDuration = d.SnoozeDuration
	}
	if c.ReminderOffsets == nil {
		c.ReminderOffsets = d.ReminderOffsets
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}

// today is the current date at UTC midnight.
func (c Config) today() time.Time {
	return model.DateOnly(c.Now())
}
