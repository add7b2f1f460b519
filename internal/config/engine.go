package config

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/recurring"
	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDatabasePath         = "database.path"
	KeyCalendarDir          = "calendar.dir"
	KeyMinDocumentCount     = "recurring.min_document_count"
	KeyDefaultToleranceDays = "recurring.default_tolerance_days"
	KeyMonthsAhead          = "recurring.months_ahead"
	KeyFuzzyLowerBound      = "recurring.fuzzy_lower_bound"
	KeyFuzzyUpperBound      = "recurring.fuzzy_upper_bound"
	KeySnoozeDays           = "recurring.snooze_days"
	KeyReminderOffsets      = "recurring.reminder_offsets"
	KeyWorkers              = "recurring.workers"
)

const (
	defaultDatabasePath = "$HOME/.local/share/dues/dues.db"
	defaultCalendarDir  = "$HOME/.local/share/dues/calendar"
)

// EngineConfig is everything the CLI needs to build the engine.
type EngineConfig struct {
	DatabasePath         string
	CalendarDir          string
	ReminderOffsets      []int
	FuzzyLowerBound      float64
	FuzzyUpperBound      float64
	MinDocumentCount     int
	DefaultToleranceDays int
	MonthsAhead          int
	SnoozeDays           int
	Workers              int
}

// SetDefaults registers the engine defaults on v.
func SetDefaults(v *viper.Viper) {
	d := recurring.DefaultConfig()
	v.SetDefault(KeyDatabasePath, defaultDatabasePath)
	v.SetDefault(KeyCalendarDir, defaultCalendarDir)
	v.SetDefault(KeyMinDocumentCount, d.MinDocumentCount)
	v.SetDefault(KeyDefaultToleranceDays, d.DefaultToleranceDays)
	v.SetDefault(KeyMonthsAhead, d.MonthsAhead)
	v.SetDefault(KeyFuzzyLowerBound, d.FuzzyLowerBound)
	v.SetDefault(KeyFuzzyUpperBound, d.FuzzyUpperBound)
	v.SetDefault(KeySnoozeDays, int(d.SnoozeDuration/(24*time.Hour)))
	v.SetDefault(KeyReminderOffsets, d.ReminderOffsets)
	v.SetDefault(KeyWorkers, d.Workers)
}

// LoadEngineConfig reads the engine configuration from the global viper instance.
func LoadEngineConfig() (EngineConfig, error) {
	return LoadEngineConfigFrom(viper.GetViper())
}

// LoadEngineConfigFrom reads the engine configuration from v, filling defaults
// for unset keys, and validates it.
func LoadEngineConfigFrom(v *viper.Viper) (EngineConfig, error) {
	SetDefaults(v)

	cfg := EngineConfig{
		DatabasePath:         ExpandPath(v.GetString(KeyDatabasePath)),
		CalendarDir:          ExpandPath(v.GetString(KeyCalendarDir)),
		ReminderOffsets:      v.GetIntSlice(KeyReminderOffsets),
		FuzzyLowerBound:      v.GetFloat64(KeyFuzzyLowerBound),
		FuzzyUpperBound:      v.GetFloat64(KeyFuzzyUpperBound),
		MinDocumentCount:     v.GetInt(KeyMinDocumentCount),
		DefaultToleranceDays: v.GetInt(KeyDefaultToleranceDays),
		MonthsAhead:          v.GetInt(KeyMonthsAhead),
		SnoozeDays:           v.GetInt(KeySnoozeDays),
		Workers:              v.GetInt(KeyWorkers),
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot work with.
func (c EngineConfig) Validate() error {
	switch {
	case c.DatabasePath == "":
		return fmt.Errorf("%w: %s is empty", common.ErrInvalidConfig, KeyDatabasePath)
	case c.MinDocumentCount < 2:
		return fmt.Errorf("%w: %s must be at least 2", common.ErrInvalidConfig, KeyMinDocumentCount)
	case c.DefaultToleranceDays < 0 || c.DefaultToleranceDays > 15:
		return fmt.Errorf("%w: %s must be between 0 and 15", common.ErrInvalidConfig, KeyDefaultToleranceDays)
	case c.MonthsAhead < 1 || c.MonthsAhead > 24:
		return fmt.Errorf("%w: %s must be between 1 and 24", common.ErrInvalidConfig, KeyMonthsAhead)
	case c.FuzzyLowerBound <= 0 || c.FuzzyUpperBound <= c.FuzzyLowerBound:
		return fmt.Errorf("%w: fuzzy bounds must satisfy 0 < %s < %s",
			common.ErrInvalidConfig, KeyFuzzyLowerBound, KeyFuzzyUpperBound)
	case c.SnoozeDays < 1:
		return fmt.Errorf("%w: %s must be positive", common.ErrInvalidConfig, KeySnoozeDays)
	case c.Workers < 1:
		return fmt.Errorf("%w: %s must be positive", common.ErrInvalidConfig, KeyWorkers)
	}
	for _, offset := range c.ReminderOffsets {
		if offset < 0 {
			return fmt.Errorf("%w: %s cannot contain negative offsets", common.ErrInvalidConfig, KeyReminderOffsets)
		}
	}
	return nil
}

// Recurring converts the configuration into engine tunables.
func (c EngineConfig) Recurring() recurring.Config {
	cfg := recurring.DefaultConfig()
	cfg.MinDocumentCount = c.MinDocumentCount
	cfg.DefaultToleranceDays = c.DefaultToleranceDays
	cfg.MonthsAhead = c.MonthsAhead
	cfg.FuzzyLowerBound = c.FuzzyLowerBound
	cfg.FuzzyUpperBound = c.FuzzyUpperBound
	cfg.SnoozeDuration = time.Duration(c.SnoozeDays) * 24 * time.Hour
	cfg.ReminderOffsets = make([]int, len(c.ReminderOffsets))
	copy(cfg.ReminderOffsets, c.ReminderOffsets)
	cfg.Workers = c.Workers
	return cfg
}
