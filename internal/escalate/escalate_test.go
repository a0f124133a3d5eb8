package escalate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

func TestLogSink_NeverFails(t *testing.T) {
	s := NewLogSink(zap.NewNop())
	err := s.Escalate(context.Background(), Signal{
		Reason:       ReasonRepeatedFailures,
		Category:     friction.CategorySyntax,
		FailureCount: 3,
		RaisedAt:     time.Now(),
	})
	assert.NoError(t, err)
}

func TestNATSSink_NilConnIsNoop(t *testing.T) {
	s := NewNATSSink(nil, "", nil)
	err := s.Escalate(context.Background(), Signal{Reason: ReasonLowScore, Score: 0.2})
	assert.NoError(t, err)
}

func TestSignal_JSONShape(t *testing.T) {
	sig := Signal{
		Reason:       ReasonLowScore,
		Category:     friction.CategoryDependency,
		Score:        0.25,
		FailureCount: 0,
		RaisedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "flow_score_below_threshold", decoded["reason"])
	assert.Equal(t, "dependency", decoded["category"])
	assert.InDelta(t, 0.25, decoded["score"], 1e-9)
}
