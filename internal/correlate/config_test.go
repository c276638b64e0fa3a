package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"5m", 5 * time.Minute, true},
		{"1h", time.Hour, true},
		{"2d", 48 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"5", 0, false},
		{"m5", 0, false},
		{"-5m", 0, false},
		{"5x", 0, false},
		{"1.5h", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition(">= 3")
	require.NoError(t, err)
	assert.True(t, c.Holds(3))
	assert.True(t, c.Holds(4))
	assert.False(t, c.Holds(2))

	c, err = ParseCondition("==1")
	require.NoError(t, err)
	assert.True(t, c.Holds(1))
	assert.False(t, c.Holds(2))

	_, err = ParseCondition("~= 3")
	assert.Error(t, err)
	_, err = ParseCondition(">= three")
	assert.Error(t, err)
}

func TestParseHaving(t *testing.T) {
	event, cond, err := ParseHaving("failed_logins count >= 10")
	require.NoError(t, err)
	assert.Equal(t, "failed_logins", event)
	assert.True(t, cond.Holds(10))
	assert.False(t, cond.Holds(9))

	_, _, err = ParseHaving("count >= 10")
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := &models.CorrelationConfig{
		PatternType: models.PatternSequence,
		Window:      "10m",
		Events: []models.CorrelationEvent{
			{ID: "e1", Query: `event.action == "user_logon_failed"`},
			{ID: "e2", Query: `event.action == "user_logon"`},
		},
		JoinOn:   []models.JoinField{{Field: "user.name"}},
		Sequence: &models.SequenceSpec{Order: []string{"e1", "e2"}},
	}
	require.NoError(t, ValidateConfig(valid))

	t.Run("bad window", func(t *testing.T) {
		cfg := *valid
		cfg.Window = "ten minutes"
		assert.Error(t, ValidateConfig(&cfg))
	})

	t.Run("duplicate event id", func(t *testing.T) {
		cfg := *valid
		cfg.Events = []models.CorrelationEvent{
			{ID: "e1", Query: "a == 1"},
			{ID: "e1", Query: "b == 2"},
		}
		assert.Error(t, ValidateConfig(&cfg))
	})

	t.Run("sequence order references unknown event", func(t *testing.T) {
		cfg := *valid
		cfg.Sequence = &models.SequenceSpec{Order: []string{"e1", "nope"}}
		assert.Error(t, ValidateConfig(&cfg))
	})

	t.Run("max_span exceeds window", func(t *testing.T) {
		cfg := *valid
		cfg.PatternType = models.PatternTemporalJoin
		cfg.Sequence = nil
		cfg.TemporalJoin = &models.TemporalJoinSpec{RequireAll: true, MaxSpan: "1h"}
		assert.Error(t, ValidateConfig(&cfg))
	})

	t.Run("spike needs positive threshold", func(t *testing.T) {
		cfg := &models.CorrelationConfig{
			PatternType: models.PatternSpike,
			Window:      "1h",
			Events:      []models.CorrelationEvent{{ID: "e1", Query: "event.category == \"network\""}},
			Spike: &models.SpikeSpec{
				Field:          "source.ip",
				BaselineWindow: "1h",
				SpikeWindow:    "5m",
				SpikeThreshold: 0,
			},
		}
		assert.Error(t, ValidateConfig(cfg))
		cfg.Spike.SpikeThreshold = 3
		require.NoError(t, ValidateConfig(cfg))
	})
}
