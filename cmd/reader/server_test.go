package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-reader/internal/client"
	"github.com/23skdu/longbow-reader/internal/device"
	"github.com/23skdu/longbow-reader/internal/pipeline"
	"github.com/23skdu/longbow-reader/internal/reader"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(ctx context.Context, pairs []pipeline.Pair) ([]pipeline.Answer, error) {
	args := m.Called(ctx, pairs)
	answers, _ := args.Get(0).([]pipeline.Answer)
	return answers, args.Error(1)
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	_ = c.Write(&metric)
	return metric.GetCounter().GetValue()
}

func testModel() *reader.Model {
	cfg := reader.DefaultConfig()
	cfg.EmbeddingSize = 2
	cfg.HiddenSize = 2
	cfg.KeepProb = 1
	cfg.ContextLen = 4
	cfg.QuestionLen = 3
	cfg.MaxSpan = 1
	cfg.Attention = reader.BiDAFAttention
	return reader.New(cfg, nil, device.NewCPUBackend())
}

func testRequest() ScoreRequest {
	return ScoreRequest{
		IDs: []string{"a", "b"},
		Context: [][][]float64{
			{{0.1, 0.2}, {0.3, -0.1}, {0.5, 0.5}, {0, 0}},
			{{-0.2, 0.4}, {0.1, 0.1}, {0.2, -0.3}, {0.7, 0.1}},
		},
		Question: [][][]float64{
			{{0.3, -0.1}, {0, 0}, {0, 0}},
			{{0.2, 0.2}, {0.1, 0.4}, {0, 0.1}},
		},
		ContextMask:  [][]float64{{1, 1, 1, 0}, {1, 1, 1, 1}},
		QuestionMask: [][]float64{{1, 0, 0}, {1, 1, 1}},
	}
}

func post(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := cbor.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_Score(t *testing.T) {
	mfc := &mockFlightClient{}
	srv := NewServer(testModel(), nil, mfc, "test-dataset", 16)

	t.Run("HandleScore with Forwarding", func(t *testing.T) {
		mfc.On("DoPut", mock.Anything, "test-dataset", mock.MatchedBy(func(rec arrow.RecordBatch) bool {
			return rec.NumRows() == 2
		})).Return(nil).Once()

		rr := post(t, srv.handleScore, "/score", testRequest())
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp ScoreResponse
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Spans, 2)
		assert.Equal(t, 0.0, resp.StartProb[0][3])
		assert.Less(t, resp.Spans[0].End, 3)
		assert.LessOrEqual(t, resp.Spans[1].End, resp.Spans[1].Start+1)
		assert.Len(t, resp.AttnDist[1], 4)
		assert.Len(t, resp.Q2CDist, 2)

		var sum float64
		for _, v := range resp.EndProb[1] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		mfc.AssertExpectations(t)
	})

	t.Run("Forwarding failure still answers", func(t *testing.T) {
		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(client.ErrCircuitOpen).Once()
		rr := post(t, srv.handleScore, "/score", testRequest())
		assert.Equal(t, http.StatusOK, rr.Code)
		mfc.AssertExpectations(t)
	})

	t.Run("Bad requests", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(r *ScoreRequest)
			want   string
		}{
			{"wrong length", func(r *ScoreRequest) { r.Context[0] = r.Context[0][:3] }, "context[0] has 3 rows"},
			{"wrong width", func(r *ScoreRequest) { r.Question[1][0] = []float64{1} }, "width 1"},
			{"hole in mask", func(r *ScoreRequest) { r.ContextMask[0] = []float64{1, 0, 1, 0} }, "not a prefix mask"},
			{"soft mask", func(r *ScoreRequest) { r.QuestionMask[0][0] = 0.5 }, "want 0 or 1"},
			{"empty question", func(r *ScoreRequest) { r.QuestionMask[0] = []float64{0, 0, 0} }, "all positions masked"},
			{"batch mismatch", func(r *ScoreRequest) { r.Question = r.Question[:1] }, "batch sizes differ"},
			{"ids", func(r *ScoreRequest) { r.IDs = []string{"x"} }, "ids"},
			{"empty", func(r *ScoreRequest) { *r = ScoreRequest{} }, "empty batch"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := testRequest()
				tt.mutate(&req)
				rr := post(t, srv.handleScore, "/score", req)
				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Contains(t, rr.Body.String(), tt.want)
			})
		}

		rr := httptest.NewRecorder()
		srv.handleScore(rr, httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader([]byte{0xff})))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = httptest.NewRecorder()
		srv.handleScore(rr, httptest.NewRequest(http.MethodGet, "/score", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Batch over limit", func(t *testing.T) {
		small := NewServer(testModel(), nil, nil, "", 1)
		rr := post(t, small.handleScore, "/score", testRequest())
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("Health Check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})
}

func TestServer_ScoreArrow(t *testing.T) {
	srv := NewServer(testModel(), nil, nil, "", 16)
	rr := post(t, srv.handleScoreArrow, "/score/arrow", testRequest())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rdr, err := ipc.NewReader(rr.Body, ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer rdr.Release()

	require.True(t, rdr.Next())
	rows, err := client.ReadRows(rdr.Record())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
	assert.Len(t, rows[0].StartProb, 4)
	assert.LessOrEqual(t, rows[1].Start, rows[1].End)
}

func TestServer_ScoreText(t *testing.T) {
	scorer := &mockScorer{}
	srv := NewServer(testModel(), scorer, nil, "", 16)

	pairs := []pipeline.Pair{{Context: "lorem ipsum dolor", Question: "what ipsum"}}
	answer := pipeline.Answer{
		Span:      reader.Span{Start: 1, End: 1, Prob: 0.3},
		Text:      "ipsum",
		Tokens:    []string{"lorem", "ipsum", "dolor"},
		StartProb: []float64{0.2, 0.6, 0.2},
		EndProb:   []float64{0.1, 0.5, 0.4},
	}
	scorer.On("Score", mock.Anything, pairs).Return([]pipeline.Answer{answer}, nil).Once()

	rr := post(t, srv.handleScoreText, "/score/text", pairs)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got []pipeline.Answer
	require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, []pipeline.Answer{answer}, got)
	scorer.AssertExpectations(t)
}

func TestServer_ScoreTextPipeline(t *testing.T) {
	model := testModel()
	srv := NewServer(model, pipeline.New(pipeline.DefaultConfig(), model, nil), nil, "", 16)

	rr := post(t, srv.handleScoreText, "/score/text", []pipeline.Pair{{Context: "lorem ipsum dolor sit amet", Question: "what dolor"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got []pipeline.Answer
	require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"lorem", "ipsum", "dolor", "sit"}, got[0].Tokens)
	assert.NotEmpty(t, got[0].Text)

	rr = post(t, srv.handleScoreText, "/score/text", []pipeline.Pair{{Context: "lorem ipsum dolor", Question: "?"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "all positions masked")
}

func TestPredictionSink(t *testing.T) {
	server, err := newSinkServer("localhost:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	fc, err := client.NewFlightClient(server.Addr().String(), nil)
	require.NoError(t, err)
	defer fc.Close()

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch([]client.Row{
		{ID: "q", Start: 0, End: 0, Prob: 1, Text: "lorem", StartProb: []float64{1}, EndProb: []float64{1}},
	})
	require.NoError(t, err)
	defer rec.Release()

	before := counterValue(sinkRows.WithLabelValues("sink-test"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, fc.DoPut(ctx, "sink-test", rec))
	assert.Equal(t, 1.0, counterValue(sinkRows.WithLabelValues("sink-test"))-before)
}
