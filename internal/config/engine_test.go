package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineConfigFrom_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := LoadEngineConfigFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/home/tester/.local/share/dues/dues.db", cfg.DatabasePath)
	assert.Equal(t, "/home/tester/.local/share/dues/calendar", cfg.CalendarDir)
	assert.Equal(t, 2, cfg.MinDocumentCount)
	assert.Equal(t, 3, cfg.DefaultToleranceDays)
	assert.Equal(t, 3, cfg.MonthsAhead)
	assert.InDelta(t, 0.25, cfg.FuzzyLowerBound, 1e-9)
	assert.InDelta(t, 0.60, cfg.FuzzyUpperBound, 1e-9)
	assert.Equal(t, 30, cfg.SnoozeDays)
	assert.Equal(t, []int{3, 1, 0}, cfg.ReminderOffsets)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadEngineConfigFrom_File(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
database:
  path: /tmp/dues-test.db
recurring:
  months_ahead: 6
  default_tolerance_days: 5
  snooze_days: 7
  reminder_offsets: [7, 2]
`)))

	cfg, err := LoadEngineConfigFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dues-test.db", cfg.DatabasePath)

	rc := cfg.Recurring()
	assert.Equal(t, 6, rc.MonthsAhead)
	assert.Equal(t, 5, rc.DefaultToleranceDays)
	assert.Equal(t, 7*24*time.Hour, rc.SnoozeDuration)
	assert.Equal(t, []int{7, 2}, rc.ReminderOffsets)
	assert.NotNil(t, rc.Now)
}

func TestEngineConfig_Validate(t *testing.T) {
	valid := func() EngineConfig {
		return EngineConfig{
			DatabasePath:         "/tmp/dues.db",
			ReminderOffsets:      []int{1},
			FuzzyLowerBound:      0.25,
			FuzzyUpperBound:      0.6,
			MinDocumentCount:     2,
			DefaultToleranceDays: 3,
			MonthsAhead:          3,
			SnoozeDays:           30,
			Workers:              2,
		}
	}

	tests := []struct {
		modify  func(*EngineConfig)
		name    string
		wantErr bool
	}{
		{name: "valid", modify: func(*EngineConfig) {}},
		{name: "empty database path", modify: func(c *EngineConfig) { c.DatabasePath = "" }, wantErr: true},
		{name: "single document", modify: func(c *EngineConfig) { c.MinDocumentCount = 1 }, wantErr: true},
		{name: "tolerance too wide", modify: func(c *EngineConfig) { c.DefaultToleranceDays = 20 }, wantErr: true},
		{name: "zero tolerance", modify: func(c *EngineConfig) { c.DefaultToleranceDays = 0 }},
		{name: "no horizon", modify: func(c *EngineConfig) { c.MonthsAhead = 0 }, wantErr: true},
		{name: "inverted fuzzy bounds", modify: func(c *EngineConfig) { c.FuzzyUpperBound = 0.1 }, wantErr: true},
		{name: "no snooze", modify: func(c *EngineConfig) { c.SnoozeDays = 0 }, wantErr: true},
		{name: "no workers", modify: func(c *EngineConfig) { c.Workers = 0 }, wantErr: true},
		{name: "negative offset", modify: func(c *EngineConfig) { c.ReminderOffsets = []int{1, -1} }, wantErr: true},
		{name: "no reminders", modify: func(c *EngineConfig) { c.ReminderOffsets = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("DUES_DATA", "/srv/dues")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", "/home/tester"},
		{"~/bills.db", "/home/tester/bills.db"},
		{"$DUES_DATA/bills.db", "/srv/dues/bills.db"},
		{"/abs/path", "/abs/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}
