package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRatio(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  float64
		valid bool
	}{
		{"full sampling", "1", 1, true},
		{"fractional", "0.25", 0.25, true},
		{"zero", "0", 0, true},
		{"out of range", "1.5", 0, false},
		{"negative", "-0.1", 0, false},
		{"garbage", "lots", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRatio(tt.raw)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestStartRunSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("ayatori-test"))

	ctx, span := StartRunSpan(context.Background(), "test", "sess-1", "run-1")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx), "run span must seed the context trace id")
	assert.True(t, span.SpanContext().IsValid())
}
