package sparse

import (
	"fmt"

	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// Builder assembles a CSR matrix row by row.
type Builder struct {
	cols    int
	indptr  []int
	indices []int
	data    []float64
}

// NewBuilder starts an empty matrix with cols columns.
func NewBuilder(cols int) *Builder {
	return &Builder{cols: cols, indptr: []int{0}}
}

// AddRow appends a row. indices must be strictly increasing and within
// [0, cols); zero values are kept as explicit entries. The slices are copied.
func (b *Builder) AddRow(indices []int, values []float64) error {
	if len(indices) != len(values) {
		return errors.NewDimensionError("sparse.Builder.AddRow", len(indices), len(values), 1)
	}
	prev := -1
	for _, j := range indices {
		if j < 0 || j >= b.cols {
			return errors.NewValueError("sparse.Builder.AddRow", fmt.Sprintf("column index %d out of range [0,%d)", j, b.cols))
		}
		if j <= prev {
			return errors.NewValueError("sparse.Builder.AddRow", "column indices must be strictly increasing")
		}
		prev = j
	}
	b.indices = append(b.indices, indices...)
	b.data = append(b.data, values...)
	b.indptr = append(b.indptr, len(b.data))
	return nil
}

// Rows returns the number of rows added so far.
func (b *Builder) Rows() int { return len(b.indptr) - 1 }

// Build returns the matrix. The builder must not be used afterwards.
func (b *Builder) Build() *CSR {
	return &CSR{
		rows:    len(b.indptr) - 1,
		cols:    b.cols,
		indptr:  b.indptr,
		indices: b.indices,
		data:    b.data,
	}
}
