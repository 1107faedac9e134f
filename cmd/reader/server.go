package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-reader/internal/client"
	"github.com/23skdu/longbow-reader/internal/nn"
	"github.com/23skdu/longbow-reader/internal/pipeline"
	"github.com/23skdu/longbow-reader/internal/reader"
)

var (
	questionsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_questions_scored_total",
		Help: "The total number of questions scored",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reader_request_duration_seconds",
		Help:    "Time spent processing score requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// FlightClientInterface is the part of client.FlightClient the server uses.
type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// TextScorer scores raw text pairs.
type TextScorer interface {
	Score(ctx context.Context, pairs []pipeline.Pair) ([]pipeline.Answer, error)
}

type Server struct {
	model        *reader.Model
	scorer       TextScorer
	flightClient FlightClientInterface
	datasetName  string
	alloc        memory.Allocator
	sem          *semaphore.Weighted
	maxBatch     int64
}

func NewServer(model *reader.Model, scorer TextScorer, fc FlightClientInterface, dataset string, maxConcurrent int) *Server {
	return &Server{
		model:        model,
		scorer:       scorer,
		flightClient: fc,
		datasetName:  dataset,
		alloc:        memory.NewGoAllocator(),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		maxBatch:     int64(maxConcurrent),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/score/arrow", s.handleScoreArrow)
	mux.HandleFunc("/score/text", s.handleScoreText)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting reader server")
	if srv.flightClient != nil {
		log.Info().Str("dataset", srv.datasetName).Msg("Forwarding predictions to Longbow")
	}
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("reader-server")

// admit blocks until n questions may be scored. The returned release must
// be called when done.
func (s *Server) admit(ctx context.Context, n int) (func(), error) {
	weight := int64(n)
	if weight > s.maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", n, s.maxBatch)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(weight) }, nil
}

// score decodes a ScoreRequest and runs the graph. On failure it has
// already written the HTTP error.
func (s *Server) score(w http.ResponseWriter, r *http.Request, endpoint string) (*ScoreRequest, *reader.Prediction, []reader.Span, bool) {
	ctx, span := tracer.Start(r.Context(), endpoint)
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, nil, nil, false
	}

	var req ScoreRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return nil, nil, nil, false
	}
	in, err := req.inputs(s.model)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return nil, nil, nil, false
	}
	span.SetAttributes(attribute.Int("batch_size", len(req.Context)))

	release, err := s.admit(ctx, len(req.Context))
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return nil, nil, nil, false
	}
	pred := s.model.Forward(in, nn.Inference)
	release()

	spans := s.model.Predict(pred)
	questionsScored.Add(float64(len(spans)))
	return &req, pred, spans, true
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())
	}()

	req, pred, spans, ok := s.score(w, r, "handleScore")
	if !ok {
		return
	}
	rows := predictionRows(req.IDs, pred, spans)
	s.forward(r.Context(), rows)

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(newResponse(pred, spans)); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleScoreArrow answers with an Arrow IPC stream of prediction rows.
func (s *Server) handleScoreArrow(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("score_arrow").Observe(time.Since(start).Seconds())
	}()

	req, pred, spans, ok := s.score(w, r, "handleScoreArrow")
	if !ok {
		return
	}
	rows := predictionRows(req.IDs, pred, spans)
	s.forward(r.Context(), rows)

	rec, err := client.NewRecordBatchBuilder(s.alloc).BuildRecordBatch(rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rec.Release()

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	if err := writeArrowStream(w, rec); err != nil {
		log.Error().Err(err).Msg("Failed to write arrow stream")
	}
}

// handleScoreText scores raw text pairs through the tokenization pipeline.
func (s *Server) handleScoreText(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleScoreText")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("score_text").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var pairs []pipeline.Pair
	if err := cbor.NewDecoder(r.Body).Decode(&pairs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("pair_count", len(pairs)))

	release, err := s.admit(ctx, len(pairs))
	if err != nil {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	answers, err := s.scorer.Score(ctx, pairs)
	release()
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}
	questionsScored.Add(float64(len(answers)))
	s.forward(ctx, answerRows(answers))

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(answers); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// forward sends rows to Longbow when a Flight client is configured.
// Failures are logged; they never fail the request.
func (s *Server) forward(ctx context.Context, rows []client.Row) {
	if s.flightClient == nil || len(rows) == 0 {
		return
	}
	rec, err := client.NewRecordBatchBuilder(s.alloc).BuildRecordBatch(rows)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build prediction record")
		return
	}
	defer rec.Release()
	if err := s.flightClient.DoPut(ctx, s.datasetName, rec); err != nil {
		log.Error().Err(err).Msg("Error forwarding predictions to Longbow")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func predictionRows(ids []string, pred *reader.Prediction, spans []reader.Span) []client.Row {
	rows := make([]client.Row, len(spans))
	for i, sp := range spans {
		id := strconv.Itoa(i)
		if ids != nil {
			id = ids[i]
		}
		rows[i] = client.Row{
			ID:        id,
			Start:     sp.Start,
			End:       sp.End,
			Prob:      sp.Prob,
			StartProb: append([]float64(nil), pred.StartProb.Row(i)...),
			EndProb:   append([]float64(nil), pred.EndProb.Row(i)...),
		}
	}
	return rows
}

func answerRows(answers []pipeline.Answer) []client.Row {
	rows := make([]client.Row, len(answers))
	for i, a := range answers {
		rows[i] = client.Row{
			ID:        strconv.Itoa(i),
			Start:     a.Start,
			End:       a.End,
			Prob:      a.Prob,
			Text:      a.Text,
			StartProb: a.StartProb,
			EndProb:   a.EndProb,
		}
	}
	return rows
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
