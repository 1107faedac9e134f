package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch(nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Valid input", func(t *testing.T) {
		rows := []Row{
			{ID: "q1", Start: 1, End: 2, Prob: 0.4, Text: "ipsum dolor", StartProb: []float64{0.1, 0.9, 0}, EndProb: []float64{0, 0.2, 0.8}},
			{ID: "q2", Start: 0, End: 0, Prob: 1, StartProb: []float64{1}, EndProb: []float64{1}},
		}

		rb, err := builder.BuildRecordBatch(rows)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumRows())
		assert.Equal(t, int64(7), rb.NumCols())
		assert.Equal(t, "start_prob", rb.ColumnName(5))

		listArr := rb.Column(5).(*array.List)
		assert.Equal(t, []int32{0, 3, 4}, listArr.Offsets())

		back, err := ReadRows(rb)
		require.NoError(t, err)
		assert.Equal(t, rows, back)
	})

	t.Run("Invalid span", func(t *testing.T) {
		_, err := builder.BuildRecordBatch([]Row{{Start: 2, End: 1}})
		assert.Error(t, err)
	})
}

func TestReadRows_WrongSchema(t *testing.T) {
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "f1", Type: arrow.PrimitiveTypes.Float32}}, nil)
	b := array.NewFloat32Builder(pool)
	defer b.Release()
	b.AppendValues([]float32{1, 2}, nil)
	a := b.NewArray()
	defer a.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{a}, 2)
	defer rec.Release()

	_, err := ReadRows(rec)
	assert.ErrorContains(t, err, "unexpected schema")
}
