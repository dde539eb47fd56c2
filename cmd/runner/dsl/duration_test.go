package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT5S", 5 * time.Second},
		{"PT1M30S", 90 * time.Second},
		{"PT2H", 2 * time.Hour},
		{"P1D", 24 * time.Hour},
		{"P1DT12H", 36 * time.Hour},
		{"P2W", 14 * 24 * time.Hour},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT0.001S", time.Millisecond},
	}
	for _, tt := range tests {
		d, err := ParseISODuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, d.ToTimeDuration(), tt.in)
	}
}

func TestParseISODurationRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "5s", "P", "PT", "P1Y", "P3M", "PTxS"} {
		_, err := ParseISODuration(in)
		assert.Error(t, err, in)
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var scalar struct {
		Wait *Duration `yaml:"wait"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("wait: PT10S"), &scalar))
	assert.Equal(t, 10*time.Second, scalar.Wait.ToTimeDuration())

	var object struct {
		Wait *Duration `yaml:"wait"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("wait:\n  minutes: 1\n  seconds: 30"), &object))
	assert.Equal(t, 90*time.Second, object.Wait.ToTimeDuration())

	var bad struct {
		Wait *Duration `yaml:"wait"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("wait: one-minute"), &bad))
}
