package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-reader/internal/attention"
	"github.com/23skdu/longbow-reader/internal/cache"
	"github.com/23skdu/longbow-reader/internal/charcnn"
	"github.com/23skdu/longbow-reader/internal/client"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/encoder"
	"github.com/23skdu/longbow-reader/internal/pipeline"
	"github.com/23skdu/longbow-reader/internal/reader"
	"github.com/23skdu/longbow-reader/internal/tfidf"
)

var (
	embeddingSize = flag.Int("embedding", 100, "Word vector width")
	hiddenSize    = flag.Int("hidden", 200, "Encoder hidden size per direction")
	keepProb      = flag.Float64("keep-prob", 0.85, "Dropout keep probability (training only)")
	attnType      = flag.String("attention", "basic", "Attention layer (basic, bidaf)")
	cellType      = flag.String("cell", "gru", "Encoder cell (gru, lstm)")
	reduceMode    = flag.String("reduce", "sum", "BiDAF similarity reduction (sum, mean, single)")
	useBiases     = flag.Bool("biases", false, "Add positional biases to BiDAF similarities")
	contextLen    = flag.Int("context-len", 600, "Padded context length")
	questionLen   = flag.Int("question-len", 30, "Padded question length")
	maxSpan       = flag.Int("max-span", 15, "Maximum answer length minus one")
	charVocab     = flag.Int("char-vocab", 0, "Character vocabulary size; 0 disables the character CNN")
	tfidfCorpus   = flag.String("tfidf-corpus", "", "Corpus file, one document per line, for TF-IDF token features")
	tfidfVocab    = flag.String("tfidf-vocab", "", "Vocabulary file, one term per line, for TF-IDF token features")
	exactMatch    = flag.Bool("exact-match", true, "Add a question exact-match feature next to TF-IDF")
	rowCacheSize  = flag.Int("row-cache", 1024, "TF-IDF rows kept densified in memory")
	seed          = flag.Int64("seed", 42, "Initialization and dropout seed")
	batchSize     = flag.Int("batch", 32, "Pairs per forward pass in the text pipeline")
	loremPairs    = flag.Int("lorem", 8, "Number of Lorem Ipsum pairs scored in demo mode")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	sinkAddr      = flag.String("sink", "", "Address for a local Flight prediction sink (e.g. :9090)")
	serverAddr    = flag.String("server", "", "Longbow server address (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "reader_predictions", "Target dataset name on server")
	maxConcurrent = flag.Int("max-concurrent", 1024, "Maximum number of questions scored concurrently")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func modelConfig() (reader.Config, error) {
	cfg := reader.DefaultConfig()
	cfg.EmbeddingSize = *embeddingSize
	cfg.HiddenSize = *hiddenSize
	cfg.KeepProb = *keepProb
	cfg.UseBiases = *useBiases
	cfg.ContextLen = *contextLen
	cfg.QuestionLen = *questionLen
	cfg.MaxSpan = *maxSpan
	cfg.Seed = *seed
	if cfg.MaxSpan < 0 {
		return cfg, fmt.Errorf("max-span must be >= 0, got %d", cfg.MaxSpan)
	}

	var err error
	if cfg.Attention, err = reader.ParseAttentionType(*attnType); err != nil {
		return cfg, err
	}
	if cfg.CellType, err = encoder.ParseCellType(*cellType); err != nil {
		return cfg, err
	}
	if cfg.ReduceMode, err = attention.ParseReduceMode(*reduceMode); err != nil {
		return cfg, err
	}
	if *charVocab > 0 {
		cc := charcnn.DefaultConfig(*charVocab)
		cc.KeepProb = *keepProb
		cc.Seed = *seed + 50
		cfg.CharCNN = &cc
	}
	return cfg, nil
}

// loadFeatures returns nil, nil when TF-IDF features are not configured.
func loadFeatures(backend device.Backend) (*tfidf.AddInput, []string, error) {
	if *tfidfCorpus == "" || *tfidfVocab == "" {
		return nil, nil, nil
	}
	vocab, err := tfidf.LoadVocabulary(*tfidfVocab)
	if err != nil {
		return nil, nil, err
	}
	matrix, err := tfidf.FitFile(*tfidfCorpus, vocab)
	if err != nil {
		return nil, nil, err
	}
	if *rowCacheSize > 0 {
		matrix = matrix.WithCache(cache.NewMapCache(*rowCacheSize))
	}
	return tfidf.NewAddInput(matrix, *exactMatch, backend), vocab, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *sinkAddr != "" && *listenAddr == "" && *serverAddr == "" {
		startSink(*sinkAddr)
		return
	}
	if *sinkAddr != "" {
		go startSink(*sinkAddr)
	}

	cfg, err := modelConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid model flags")
	}
	backend := device.NewCPUBackend()
	features, vocab, err := loadFeatures(backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build TF-IDF features")
	}
	model := reader.New(cfg, features, backend)
	scorer := pipeline.New(pipeline.Config{BatchSize: *batchSize}, model, vocab)

	var fc *client.FlightClient
	if *serverAddr != "" {
		fc, err = client.NewFlightClient(*serverAddr, client.NewCircuitBreaker(5, 30*time.Second))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Msg("Connected to Flight Server")
	}

	if *listenAddr != "" {
		var fcInterface FlightClientInterface
		if fc != nil {
			fcInterface = fc
		}
		startServer(*listenAddr, NewServer(model, scorer, fcInterface, *datasetName, *maxConcurrent))
		return
	}

	runDemo(scorer, fc, features)
}

// runDemo scores Lorem Ipsum pairs and sends the predictions to Longbow,
// or writes them to stdout as an Arrow IPC stream.
func runDemo(scorer *pipeline.Pipeline, fc *client.FlightClient, features *tfidf.AddInput) {
	pairs := pipeline.LoremPairs(*loremPairs, rand.New(rand.NewSource(*seed)))
	if features != nil {
		for i := range pairs {
			pairs[i].Doc = i % features.Matrix.NumDocs()
		}
	}

	start := time.Now()
	answers, err := scorer.Score(context.Background(), pairs)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}
	elapsed := time.Since(start)
	log.Info().
		Int("count", len(pairs)).
		Dur("elapsed", elapsed).
		Float64("qps", float64(len(pairs))/elapsed.Seconds()).
		Msg("Scored pairs")
	for i, a := range answers {
		log.Debug().Str("question", pairs[i].Question).Str("answer", a.Text).Float64("prob", a.Prob).Msg("Answer")
	}

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(answerRows(answers))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build prediction record")
	}
	if rec == nil {
		return
	}
	defer rec.Release()

	if fc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := fc.DoPut(ctx, *datasetName, rec); err != nil {
			log.Error().Err(err).Msg("Flight DoPut failed")
			return
		}
		log.Info().Str("dataset", *datasetName).Msg("Sent predictions to Longbow")
		return
	}
	if err := writeArrowStream(os.Stdout, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("longbow-reader"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
