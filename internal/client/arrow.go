package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Row is one scored question: the best span and the start/end
// distributions over the context.
type Row struct {
	ID        string
	Start     int
	End       int
	Prob      float64
	Text      string
	StartProb []float64
	EndProb   []float64
}

// Schema is the layout of prediction records.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "start", Type: arrow.PrimitiveTypes.Int32},
		{Name: "end", Type: arrow.PrimitiveTypes.Int32},
		{Name: "prob", Type: arrow.PrimitiveTypes.Float64},
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "start_prob", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
		{Name: "end_prob", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

// RecordBatchBuilder creates Arrow record batches from prediction rows.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch returns nil for no rows. The caller releases the result.
func (b *RecordBatchBuilder) BuildRecordBatch(rows []Row) (arrow.RecordBatch, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := array.NewStringBuilder(b.mem)
	defer ids.Release()
	starts := array.NewInt32Builder(b.mem)
	defer starts.Release()
	ends := array.NewInt32Builder(b.mem)
	defer ends.Release()
	probs := array.NewFloat64Builder(b.mem)
	defer probs.Release()
	texts := array.NewStringBuilder(b.mem)
	defer texts.Release()
	startDist := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer startDist.Release()
	endDist := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer endDist.Release()
	startVals := startDist.ValueBuilder().(*array.Float64Builder)
	endVals := endDist.ValueBuilder().(*array.Float64Builder)

	for i, r := range rows {
		if r.Start < 0 || r.End < r.Start {
			return nil, fmt.Errorf("row %d: invalid span [%d, %d]", i, r.Start, r.End)
		}
		ids.Append(r.ID)
		starts.Append(int32(r.Start))
		ends.Append(int32(r.End))
		probs.Append(r.Prob)
		texts.Append(r.Text)
		startDist.Append(true)
		startVals.AppendValues(r.StartProb, nil)
		endDist.Append(true)
		endVals.AppendValues(r.EndProb, nil)
	}

	cols := []arrow.Array{
		ids.NewArray(), starts.NewArray(), ends.NewArray(), probs.NewArray(),
		texts.NewArray(), startDist.NewArray(), endDist.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(Schema, cols, int64(len(rows))), nil
}

// ReadRows decodes a record with Schema's columns back into rows.
func ReadRows(rec arrow.RecordBatch) ([]Row, error) {
	if err := checkSchema(rec.Schema()); err != nil {
		return nil, err
	}
	ids := rec.Column(0).(*array.String)
	starts := rec.Column(1).(*array.Int32)
	ends := rec.Column(2).(*array.Int32)
	probs := rec.Column(3).(*array.Float64)
	texts := rec.Column(4).(*array.String)
	startDist := rec.Column(5).(*array.List)
	endDist := rec.Column(6).(*array.List)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			ID:        ids.Value(i),
			Start:     int(starts.Value(i)),
			End:       int(ends.Value(i)),
			Prob:      probs.Value(i),
			Text:      texts.Value(i),
			StartProb: listRow(startDist, i),
			EndProb:   listRow(endDist, i),
		}
	}
	return rows, nil
}

func listRow(l *array.List, i int) []float64 {
	lo, hi := l.ValueOffsets(i)
	vals := l.ListValues().(*array.Float64).Float64Values()
	return append([]float64(nil), vals[lo:hi]...)
}

func checkSchema(s *arrow.Schema) error {
	if s.NumFields() != Schema.NumFields() {
		return fmt.Errorf("unexpected schema: %d fields, want %d", s.NumFields(), Schema.NumFields())
	}
	for i, want := range Schema.Fields() {
		got := s.Field(i)
		if got.Name != want.Name || !arrow.TypeEqual(got.Type, want.Type) {
			return fmt.Errorf("unexpected schema: field %d is %s %s, want %s %s", i, got.Name, got.Type, want.Name, want.Type)
		}
	}
	return nil
}
