package nn

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayerDuration tracks time spent in specific layers
	LayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reader_layer_duration_seconds",
		Help:    "Time spent in specific reader layers",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"layer_type", "device"})
)

// TrackLayer starts a timer for one layer invocation; call the returned
// func when the layer finishes.
//
//	defer nn.TrackLayer("bidaf", backend.Name())()
func TrackLayer(layer, device string) func() {
	start := time.Now()
	return func() {
		LayerDuration.WithLabelValues(layer, device).Observe(time.Since(start).Seconds())
	}
}
