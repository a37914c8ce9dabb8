// Package metrics exports leave engine activity as Prometheus metrics. It
// implements leave.Observer so the service reports into it directly.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

const namespace = "leave"

type Observer struct {
	grantsTotal    *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	previewRows    *prometheus.CounterVec
	importRows     *prometheus.CounterVec
	policyVersions *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

var _ leave.Observer = (*Observer)(nil)

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests.
func New(reg *prometheus.Registry) *Observer {
	f := promauto.With(reg)
	return &Observer{
		grantsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Grant rows processed by committed runs.",
		}, []string{"leave_type_id", "result"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_runs_total",
			Help:      "Grant runs by outcome.",
		}, []string{"leave_type_id", "outcome"}),
		previewRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_rows_total",
			Help:      "Rows returned by grant previews.",
		}, []string{"leave_type_id", "result"}),
		importRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_import_rows_total",
			Help:      "CSV import rows by result.",
		}, []string{"result"}),
		policyVersions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_version",
			Help:      "Current active policy version.",
		}, []string{"company_id", "leave_type_id"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}

func (o *Observer) PreviewComputed(_, leaveTypeID string, t leave.PreviewTotals) {
	o.previewRows.WithLabelValues(leaveTypeID, "grantable").Add(float64(t.Grantable))
	o.previewRows.WithLabelValues(leaveTypeID, "duplicate").Add(float64(t.Duplicates))
	o.previewRows.WithLabelValues(leaveTypeID, "ineligible").Add(float64(t.Ineligible))
}

func (o *Observer) GrantRunFinished(_, leaveTypeID string, r leave.CommitResult, err error) {
	o.grantsTotal.WithLabelValues(leaveTypeID, "granted").Add(float64(r.Granted))
	o.grantsTotal.WithLabelValues(leaveTypeID, "skipped").Add(float64(r.Skipped))
	o.runsTotal.WithLabelValues(leaveTypeID, outcome(err)).Inc()
}

func (o *Observer) ImportFinished(_ string, r leave.ImportResult, _ error) {
	o.importRows.WithLabelValues("inserted").Add(float64(r.Inserted))
	o.importRows.WithLabelValues("skipped").Add(float64(r.Skipped))
	o.importRows.WithLabelValues("error").Add(float64(r.ErrorRows))
}

func (o *Observer) PolicyUpdated(companyID, leaveTypeID string, version int) {
	o.policyVersions.WithLabelValues(companyID, leaveTypeID).Set(float64(version))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, generic.ErrRunInProgress):
		return "busy"
	case generic.IsClientError(err), generic.IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}
