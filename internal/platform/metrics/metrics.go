package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	auditAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_audit_appends_total",
			Help: "Total number of audit ledger entries appended",
		},
		[]string{"tenant", "action"},
	)

	auditAppendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_audit_append_failures_total",
			Help: "Total number of failed audit ledger appends",
		},
		[]string{"tenant", "action"},
	)

	chainVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_audit_chain_verifications_total",
			Help: "Total number of audit chain verification runs",
		},
		[]string{"tenant", "result"},
	)

	documentsSigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emr_documents_signed_total",
			Help: "Total number of clinical documents signed",
		},
		[]string{"tenant", "form"},
	)
)

// AuditAppended counts a successful ledger append.
func AuditAppended(tenant, action string) {
	auditAppendsTotal.WithLabelValues(tenant, action).Inc()
}

// AuditAppendFailed counts a failed ledger append.
func AuditAppendFailed(tenant, action string) {
	auditAppendFailures.WithLabelValues(tenant, action).Inc()
}

// ChainVerified counts a verification run; result is "valid" or "broken".
func ChainVerified(tenant string, valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	chainVerifications.WithLabelValues(tenant, result).Inc()
}

// DocumentSigned counts a completed signature on a form type.
func DocumentSigned(tenant, form string) {
	documentsSigned.WithLabelValues(tenant, form).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
