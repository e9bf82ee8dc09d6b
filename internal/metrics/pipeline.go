package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Image statuses used as label values.
const (
	StatusUnderlined = "underlined"
	StatusNotFound   = "not_found"
	StatusError      = "error"
	StatusSkipped    = "skipped"
)

// Pipeline Prometheus metrics.
var (
	ImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "underliner",
			Name:      "images_total",
			Help:      "Images processed, by outcome",
		},
		[]string{"status"},
	)

	KeywordMatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "underliner",
			Name:      "keyword_matches_total",
			Help:      "OCR tokens that matched a keyword",
		},
	)

	OCRDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "underliner",
			Name:      "ocr_duration_seconds",
			Help:      "OCR engine duration per image in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"engine"},
	)

	TextRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "underliner",
			Name:      "text_requests_total",
			Help:      "Text markup requests, by outcome",
		},
		[]string{"status"},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "underliner",
			Name:      "queue_jobs_total",
			Help:      "Queue jobs handled, by backend and outcome",
		},
		[]string{"backend", "status"},
	)
)

func init() {
	prometheus.MustRegister(ImagesTotal)
	prometheus.MustRegister(KeywordMatchesTotal)
	prometheus.MustRegister(OCRDuration)
	prometheus.MustRegister(TextRequestsTotal)
	prometheus.MustRegister(QueueJobsTotal)
}

// ObserveImage records the outcome of one image.
func ObserveImage(status string, matches int) {
	ImagesTotal.WithLabelValues(status).Inc()
	if matches > 0 {
		KeywordMatchesTotal.Add(float64(matches))
	}
}

// ObserveOCR records one OCR call.
func ObserveOCR(engine string, d time.Duration) {
	OCRDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveText records one text markup request.
func ObserveText(status string) {
	TextRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveJob records one queue job.
func ObserveJob(backend, status string) {
	QueueJobsTotal.WithLabelValues(backend, status).Inc()
}
