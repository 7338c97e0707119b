package metrics

import (
	"testing"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	Register()
	Register()

	IncHTTP("/healthz")
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("/healthz")))

	IncTask(models.ObjectOrder, "completed")
	IncTask(models.ObjectOrder, "completed")
	assert.Equal(t, 2.0, testutil.ToFloat64(tasksProcessed.WithLabelValues(models.ObjectOrder, "completed")))

	SetQueueCounts(models.QueueCounts{Pending: 3, Failed: 1})
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth.WithLabelValues(models.StatusPending)))
	assert.Equal(t, 1.0, testutil.ToFloat64(queueDepth.WithLabelValues(models.StatusFailed)))

	IncTokenRefresh(models.ServiceCRM, "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(tokenRefreshes.WithLabelValues(models.ServiceCRM, "ok")))

	IncRemote(models.ServiceBooks, "create", "2xx")
	ObserveTask(models.ObjectOrder, 0.2)
}
