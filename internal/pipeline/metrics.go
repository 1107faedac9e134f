package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reader_tokenization_duration_seconds",
		Help:    "Time spent tokenizing context/question pairs",
		Buckets: prometheus.DefBuckets,
	})

	tokensPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_tokenization_throughput",
		Help: "Tokenization throughput in tokens/second",
	})

	batchTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_batch_time_seconds",
		Help: "Last batch forward time in seconds",
	})

	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_batches_total",
		Help: "Total number of batches scored",
	})

	pairsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_pairs_total",
		Help: "Total number of context/question pairs scored",
	})
)
