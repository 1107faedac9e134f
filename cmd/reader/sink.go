package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reader/internal/client"
)

var sinkRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reader_sink_rows_total",
	Help: "Prediction rows received by the local Flight sink",
}, []string{"dataset"})

// PredictionSink is a minimal Flight server that accepts prediction
// records the way Longbow does and logs them. It lets -server be pointed
// at a local process during development.
type PredictionSink struct {
	flight.BaseFlightServer
	alloc memory.Allocator
}

func NewPredictionSink() *PredictionSink {
	return &PredictionSink{alloc: memory.NewGoAllocator()}
}

func (s *PredictionSink) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

func (s *PredictionSink) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rows, err := client.ReadRows(reader.Record())
		if err != nil {
			return err
		}
		dataset := "unknown"
		if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
			dataset = desc.Path[0]
		}
		sinkRows.WithLabelValues(dataset).Add(float64(len(rows)))
		for _, r := range rows {
			log.Info().
				Str("dataset", dataset).
				Str("id", r.ID).
				Int("start", r.Start).
				Int("end", r.End).
				Float64("prob", r.Prob).
				Str("text", r.Text).
				Msg("Received prediction")
		}
	}
	return reader.Err()
}

func newSinkServer(addr string) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewPredictionSink())
	if err := server.Init(addr); err != nil {
		return nil, err
	}
	return server, nil
}

func startSink(addr string) {
	server, err := newSinkServer(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight sink")
	}
	log.Info().Str("addr", server.Addr().String()).Msg("Starting prediction sink")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight sink failed")
	}
}
