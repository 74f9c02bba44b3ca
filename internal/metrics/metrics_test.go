package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOutcome(t *testing.T) {
	before := testutil.ToFloat64(outcomesTotal.WithLabelValues("api", "fallback"))
	ObserveOutcome("api", "fallback", 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(outcomesTotal.WithLabelValues("api", "fallback")))
}

func TestSetActiveGeneration(t *testing.T) {
	SetActiveGeneration("v1")
	SetActiveGeneration("v2")
	assert.Equal(t, 1, testutil.CollectAndCount(activeGeneration))
	assert.Equal(t, float64(1), testutil.ToFloat64(activeGeneration.WithLabelValues("v2")))
}

func TestCounters(t *testing.T) {
	IncInstall("failure")
	IncPush("dropped")
	assert.GreaterOrEqual(t, testutil.ToFloat64(installsTotal.WithLabelValues("failure")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(notificationsTotal.WithLabelValues("dropped")), float64(1))
}
