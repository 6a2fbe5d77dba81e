// Package exporters publishes feed metrics over HTTP and as SSE events.
package exporters

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/feednode/internal/logging"
)

// HTTPHandler serves every promauto-registered metric. A collector that
// fails is logged and skipped so one bad metric does not blank the scrape.
func HTTPHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:      scrapeLogger{},
			ErrorHandling: promhttp.ContinueOnError,
		}),
	)
}

type scrapeLogger struct{}

func (scrapeLogger) Println(v ...any) {
	logging.GetLogger("metrics").Warn("Metrics scrape error", "error", fmt.Sprint(v...))
}
