package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
)

// Metrics — счётчики конвейера импорта. Нулевой указатель допустим:
// все методы при nil ничего не делают.
type Metrics struct {
	processed *prometheus.CounterVec
	accepted  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// NewMetrics регистрирует счётчики импорта в переданном реестре.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "import_records_processed_total",
			Help: "Total number of import records processed.",
		}, []string{"feed", "kind"}),
		accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "import_records_accepted_total",
			Help: "Total number of import records accepted.",
		}, []string{"feed", "kind"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "import_records_rejected_total",
			Help: "Total number of import records rejected, by reason.",
		}, []string{"feed", "reason"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "import_records_failed_total",
			Help: "Total number of import records skipped due to runtime failures.",
		}, []string{"feed"}),
	}
}

// IncProcessed учитывает обработанную запись.
func (m *Metrics) IncProcessed(feed models.Feed, kind models.BeneficiaryKind) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(string(feed), string(kind)).Inc()
}

// IncAccepted учитывает принятую запись.
func (m *Metrics) IncAccepted(feed models.Feed, kind models.BeneficiaryKind) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(string(feed), string(kind)).Inc()
}

// IncRejected учитывает отклонённую запись с причиной отказа.
func (m *Metrics) IncRejected(feed models.Feed, reason *models.RejectionReason) {
	if m == nil {
		return
	}
	r := models.RejectDataIntegrity
	if reason != nil {
		r = *reason
	}
	m.rejected.WithLabelValues(string(feed), string(r)).Inc()
}

// IncFailed учитывает запись, пропущенную из-за сбоя выполнения.
func (m *Metrics) IncFailed(feed models.Feed) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(feed)).Inc()
}
