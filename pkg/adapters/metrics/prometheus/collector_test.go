package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGraphSubmitted("chain")
	c.RecordGraphSubmitted("chain")
	c.RecordTaskCompleted("add", "SUCCESS", 10*time.Millisecond)
	c.RecordTaskRetried("flaky")
	c.RecordReplacement("double_number_list")
	c.RecordWorkerPoolStatus(3, 1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.graphsSubmitted.WithLabelValues("chain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCompleted.WithLabelValues("add", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksRetried.WithLabelValues("flaky")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replacements.WithLabelValues("double_number_list")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.workerPoolIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerPoolBusy))

	// a second collector on its own registry must not collide
	NewCollector(prometheus.NewRegistry())
}
