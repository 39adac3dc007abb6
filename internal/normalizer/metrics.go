package normalizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var fallbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rpg_normalizer_fallbacks_total",
		Help: "Total number of generated steps replaced or repaired with fallback content.",
	},
	[]string{"reason"},
)

// NewMetricsObserver возвращает наблюдателя, который считает подстановки в Prometheus и пишет их в лог.
func NewMetricsObserver(logger *zap.Logger) FallbackObserver {
	log := logger.Named("Normalizer")
	return func(reason string) {
		fallbacksTotal.WithLabelValues(reason).Inc()
		log.Warn("Ответ модели заменен запасным вариантом", zap.String("reason", reason))
	}
}
