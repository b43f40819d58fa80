package slm

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/parallel"
	"github.com/YuminosukeSato/slmgo/core/sparse"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// evalParallelRows is the row count below which evaluation runs inline.
const evalParallelRows = 1024

// asCSR returns X as a CSR matrix or an InvalidInputFormatError.
func asCSR(op string, X mat.Matrix) (*sparse.CSR, error) {
	csr, ok := X.(*sparse.CSR)
	if !ok || csr == nil {
		return nil, errors.NewInvalidInputFormatError(op, "*sparse.CSR", X)
	}
	return csr, nil
}

// EvaluateDiagFree computes q_i = x_iᵀ M x_i for every row of X with the
// diagonal of M removed:
//
//	q_i = Σ_j λ_j [ (u_jᵀx_i)² − Σ_l x_il² u_lj² ]
//
// Only the nonzeros of each row are touched, so the cost is O(nnz·rank).
// Rows are evaluated in parallel.
func EvaluateDiagFree(f *Factor, X mat.Matrix) ([]float64, error) {
	csr, err := asCSR("EvaluateDiagFree", X)
	if err != nil {
		return nil, err
	}
	n, d := csr.Dims()
	if d != f.Dim() {
		return nil, errors.NewDimensionError("EvaluateDiagFree", f.Dim(), d, 1)
	}

	out := make([]float64, n)
	if f.Rank() == 0 {
		return out, nil
	}
	parallel.ParallelizeWithThreshold(n, evalParallelRows, func(start, end int) {
		for i := start; i < end; i++ {
			idx, val := csr.Row(i)
			var q float64
			for j, u := range f.atoms {
				s, s2 := rowProjection(idx, val, u)
				q += f.weights[j] * (s*s - s2)
			}
			out[i] = q
		}
	})
	return out, nil
}

// AtomFeature returns a_i = (uᵀx_i)² − Σ_l x_il² u_l², the response of every
// row to the rank-1 atom u uᵀ with its diagonal removed. dst is allocated
// when nil.
func AtomFeature(dst, u []float64, X *sparse.CSR) []float64 {
	n, d := X.Dims()
	if len(u) != d {
		panic(mat.ErrShape)
	}
	if dst == nil {
		dst = make([]float64, n)
	}
	parallel.ParallelizeWithThreshold(n, evalParallelRows, func(start, end int) {
		for i := start; i < end; i++ {
			idx, val := X.Row(i)
			s, s2 := rowProjection(idx, val, u)
			dst[i] = s*s - s2
		}
	})
	return dst
}

// rowProjection returns Σ x_l u_l and Σ (x_l u_l)² over the nonzeros of a row.
func rowProjection(idx []int, val, u []float64) (s, s2 float64) {
	for p, l := range idx {
		xu := val[p] * u[l]
		s += xu
		s2 += xu * xu
	}
	return s, s2
}
