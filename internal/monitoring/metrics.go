package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus counters.
type Metrics struct {
	ScrapedTotal    prometheus.Counter
	DownloadedTotal prometheus.Counter
	AnalyzedTotal   prometheus.Counter
	UploadedTotal   prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics registers the counters with reg; a nil reg uses the default
// registerer. Tests pass their own registry to avoid duplicate
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ScrapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallpipe_assets_scraped_total",
			Help: "The total number of asset descriptors discovered",
		}),
		DownloadedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallpipe_assets_downloaded_total",
			Help: "The total number of assets with local bytes ensured",
		}),
		AnalyzedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallpipe_assets_analyzed_total",
			Help: "The total number of assets run through enrichment",
		}),
		UploadedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallpipe_assets_uploaded_total",
			Help: "The total number of assets uploaded to object storage",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallpipe_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}), // e.g. 'scrape_failed', 'upload_failed'
	}
}

func (m *Metrics) IncErrors(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
