// Package sparse provides the compressed sparse row matrix consumed by the
// greedy solvers. CSR implements mat.Matrix so it can be handed to code that
// expects gonum matrices, but estimators use its raw row slices and never
// densify it.
package sparse

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/parallel"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// parallelRows is the row count below which kernels run sequentially.
const parallelRows = 2048

// CSR is a compressed sparse row matrix. Column indices of each row are
// strictly increasing.
type CSR struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

var _ mat.Matrix = (*CSR)(nil)

// NewCSR validates and wraps the raw arrays without copying them. Later
// writes to data are visible through the matrix and change its Fingerprint.
func NewCSR(rows, cols int, indptr, indices []int, data []float64) (*CSR, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.NewValueError("sparse.NewCSR", fmt.Sprintf("negative shape %dx%d", rows, cols))
	}
	if len(indptr) != rows+1 {
		return nil, errors.NewDimensionError("sparse.NewCSR", rows+1, len(indptr), 0)
	}
	if len(indices) != len(data) {
		return nil, errors.NewValueError("sparse.NewCSR", "indices and data differ in length")
	}
	if indptr[0] != 0 || indptr[rows] != len(data) {
		return nil, errors.NewValueError("sparse.NewCSR", "indptr must start at 0 and end at nnz")
	}
	for i := 0; i < rows; i++ {
		if indptr[i+1] < indptr[i] {
			return nil, errors.NewValueError("sparse.NewCSR", fmt.Sprintf("indptr decreases at row %d", i))
		}
		prev := -1
		for p := indptr[i]; p < indptr[i+1]; p++ {
			j := indices[p]
			if j < 0 || j >= cols {
				return nil, errors.NewValueError("sparse.NewCSR", fmt.Sprintf("column index %d out of range [0,%d) in row %d", j, cols, i))
			}
			if j <= prev {
				return nil, errors.NewValueError("sparse.NewCSR", fmt.Sprintf("column indices of row %d are not strictly increasing", i))
			}
			prev = j
		}
	}
	return &CSR{rows: rows, cols: cols, indptr: indptr, indices: indices, data: data}, nil
}

// FromDense converts any gonum matrix, dropping exact zeros.
func FromDense(m mat.Matrix) *CSR {
	r, c := m.Dims()
	b := NewBuilder(c)
	idx := make([]int, 0, c)
	val := make([]float64, 0, c)
	for i := 0; i < r; i++ {
		idx, val = idx[:0], val[:0]
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v != 0 {
				idx = append(idx, j)
				val = append(val, v)
			}
		}
		// indices are increasing and in range by construction
		_ = b.AddRow(idx, val)
	}
	return b.Build()
}

// Dims implements mat.Matrix.
func (m *CSR) Dims() (r, c int) { return m.rows, m.cols }

// At implements mat.Matrix with a binary search in row i.
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	idx := m.indices[m.indptr[i]:m.indptr[i+1]]
	k := sort.SearchInts(idx, j)
	if k < len(idx) && idx[k] == j {
		return m.data[m.indptr[i]+k]
	}
	return 0
}

// T implements mat.Matrix.
func (m *CSR) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.data) }

// Row returns the column indices and values of row i. The slices alias the
// matrix storage and must not be modified.
func (m *CSR) Row(i int) ([]int, []float64) {
	s, e := m.indptr[i], m.indptr[i+1]
	return m.indices[s:e], m.data[s:e]
}

// MulVec computes dst = X v. dst is allocated when nil.
func (m *CSR) MulVec(dst, v []float64) []float64 {
	if len(v) != m.cols {
		panic(mat.ErrShape)
	}
	if dst == nil {
		dst = make([]float64, m.rows)
	}
	parallel.ParallelizeWithThreshold(m.rows, parallelRows, func(start, end int) {
		for i := start; i < end; i++ {
			var s float64
			for p := m.indptr[i]; p < m.indptr[i+1]; p++ {
				s += m.data[p] * v[m.indices[p]]
			}
			dst[i] = s
		}
	})
	return dst
}

// MulVecT computes Xᵀ v as an ordered parallel reduction over rows.
func (m *CSR) MulVecT(v []float64) []float64 {
	if len(v) != m.rows {
		panic(mat.ErrShape)
	}
	return parallel.ReduceWithThreshold(m.rows, parallelRows, m.cols, func(start, end int, acc []float64) {
		for i := start; i < end; i++ {
			vi := v[i]
			if vi == 0 {
				continue
			}
			for p := m.indptr[i]; p < m.indptr[i+1]; p++ {
				acc[m.indices[p]] += m.data[p] * vi
			}
		}
	})
}

// Squared returns a matrix with the same structure and squared values.
func (m *CSR) Squared() *CSR {
	data := make([]float64, len(m.data))
	for p, v := range m.data {
		data[p] = v * v
	}
	return &CSR{rows: m.rows, cols: m.cols, indptr: m.indptr, indices: m.indices, data: data}
}

// ToCSC builds the column-major copy of the matrix.
func (m *CSR) ToCSC() *CSC {
	colptr := make([]int, m.cols+1)
	for _, j := range m.indices {
		colptr[j+1]++
	}
	for j := 0; j < m.cols; j++ {
		colptr[j+1] += colptr[j]
	}

	next := make([]int, m.cols)
	copy(next, colptr[:m.cols])
	rowind := make([]int, len(m.data))
	data := make([]float64, len(m.data))
	for i := 0; i < m.rows; i++ {
		for p := m.indptr[i]; p < m.indptr[i+1]; p++ {
			j := m.indices[p]
			q := next[j]
			rowind[q] = i
			data[q] = m.data[p]
			next[j]++
		}
	}
	return &CSC{rows: m.rows, cols: m.cols, colptr: colptr, rowind: rowind, data: data}
}

// Fingerprint hashes the shape, structure and values with xxhash. It is
// recomputed on every call in O(nnz), so it always reflects the current
// contents of the backing arrays.
func (m *CSR) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	put := func(u uint64) {
		binary.LittleEndian.PutUint64(buf[:], u)
		_, _ = h.Write(buf[:])
	}
	put(uint64(m.rows))
	put(uint64(m.cols))
	for _, p := range m.indptr {
		put(uint64(p))
	}
	for _, j := range m.indices {
		put(uint64(j))
	}
	for _, v := range m.data {
		put(math.Float64bits(v))
	}
	return h.Sum64()
}

// CSC is the column-major view used by coordinate sweeps.
type CSC struct {
	rows, cols int
	colptr     []int
	rowind     []int
	data       []float64
}

// Dims returns the shape of the matrix.
func (c *CSC) Dims() (r, cols int) { return c.rows, c.cols }

// Col returns the row indices and values of column j. The slices alias the
// matrix storage.
func (c *CSC) Col(j int) ([]int, []float64) {
	s, e := c.colptr[j], c.colptr[j+1]
	return c.rowind[s:e], c.data[s:e]
}
