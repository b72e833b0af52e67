package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/governance"
)

func TestCollectorProcesses(t *testing.T) {
	t.Parallel()
	c := NewCollector("test")

	c.ProcessStarted("SHOP", "order", "p1")
	c.ProcessStarted("SHOP", "order", "p2")
	c.ProcessCompleted("SHOP", execute.Outcome{ProcessID: "p1"}, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.processesStarted.WithLabelValues("SHOP", "order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processesActive.WithLabelValues("SHOP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processesCompleted.WithLabelValues("SHOP", "success")))

	c.ProcessCompleted("SHOP", execute.Outcome{ProcessID: "p2", Err: errors.New("boom")}, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.processesActive.WithLabelValues("SHOP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processesCompleted.WithLabelValues("SHOP", "error")))
}

func TestCollectorJobsEscalationsGovernance(t *testing.T) {
	t.Parallel()
	c := NewCollector("")

	c.JobExecuted("SHOP", "order", "workers", time.Millisecond, nil)
	c.JobExecuted("SHOP", "order", "workers", time.Millisecond, errors.New("x"))
	c.EscalationHandled("SHOP", "order", "illegal-state", "recover", "function")
	c.GovernanceFinalized("SHOP", "TX", governance.StateEnforced, nil)
	c.GovernanceFinalized("SHOP", "TX", governance.StateDisregarded, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTotal.WithLabelValues("SHOP", "workers", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsTotal.WithLabelValues("SHOP", "workers", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalations.WithLabelValues("SHOP", "illegal-state", "function")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.governance.WithLabelValues("SHOP", "TX", "enforced", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.governance.WithLabelValues("SHOP", "TX", "disregarded", "success")))
}

func TestCollectorHandler(t *testing.T) {
	t.Parallel()
	c := NewCollector("officefloor")
	c.ProcessStarted("SHOP", "order", "p1")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `officefloor_process_started_total{function="order",office="SHOP"} 1`))
}

func TestCollectorWebhooks(t *testing.T) {
	t.Parallel()
	c := NewCollector("")

	c.WebhookHandled("/hooks/orders", 202)
	c.WebhookHandled("/hooks/orders", 202)
	c.WebhookHandled("/hooks/orders", 403)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.webhooks.WithLabelValues("/hooks/orders", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.webhooks.WithLabelValues("/hooks/orders", "403")))
}
