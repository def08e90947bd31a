package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int
		ok   bool
	}{
		{name: "default order", in: "25,50,75,100", want: []int{25, 50, 75, 100}, ok: true},
		{name: "unsorted with duplicates", in: "75, 25,50,25", want: []int{25, 50, 75}, ok: true},
		{name: "trailing comma", in: "50,", want: []int{50}, ok: true},
		{name: "non numeric", in: "25,half", ok: false},
		{name: "zero rejected", in: "0,50", ok: false},
		{name: "empty", in: " , ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseThresholds(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLUSTER_RADIUS_DEGREES", "")
	t.Setenv("MILESTONE_THRESHOLDS", "")
	t.Setenv("LOOKUP_TIMEOUT_SECONDS", "")

	cfg := Load()
	require.NotNil(t, cfg)
	assert.Equal(t, 0.002, cfg.ClusterRadiusDegrees)
	assert.Equal(t, []int{25, 50, 75, 100}, cfg.MilestoneThresholds)
	assert.Equal(t, 8*time.Second, cfg.LookupTimeout)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CLUSTER_RADIUS_DEGREES", "-1")
	t.Setenv("MILESTONE_THRESHOLDS", "abc")
	t.Setenv("MIN_CLUSTER_SIZE", "three")
	t.Setenv("SMARTY_MOCK", "true")

	cfg := Load()
	assert.Equal(t, 0.002, cfg.ClusterRadiusDegrees)
	assert.Equal(t, DefaultMilestones, cfg.MilestoneThresholds)
	assert.Equal(t, 1, cfg.MinClusterSize)
	assert.True(t, cfg.SmartyMock)
}
