package reaper

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		wantBatchSize  int
		wantMaxRuntime time.Duration
	}{
		{"zero config", Config{}, DefaultBatchSize, DefaultMaxRuntime},
		{"negative values", Config{BatchSize: -1, MaxRuntime: -time.Second}, DefaultBatchSize, DefaultMaxRuntime},
		{"explicit values", Config{BatchSize: 25, MaxRuntime: 10 * time.Second}, 25, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil, nil, nil, tt.cfg)
			assert.Equal(t, tt.wantBatchSize, r.cfg.BatchSize)
			assert.Equal(t, tt.wantMaxRuntime, r.cfg.MaxRuntime)
			assert.NotEmpty(t, r.owner)
		})
	}
}

func TestRecordErrorCapsVerboseErrors(t *testing.T) {
	r := New(nil, nil, nil, Config{})
	report := &Report{}

	for i := 0; i < maxVerboseErrors+3; i++ {
		r.recordError(report, fmt.Errorf("failure %d", i))
	}

	assert.Equal(t, maxVerboseErrors+3, report.ErrorCount)
	assert.Len(t, report.Errors, maxVerboseErrors)
}
