package slm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Factor is the low-rank form M = Σ_j λ_j u_j u_jᵀ of the second-order
// coefficient matrix. The diagonal of M is zero: every accessor drops the
// λ_j u_aj² self terms at read time and M is never stored densely.
//
// Atoms are unit vectors; the weights λ_j carry sign and scale. Each atom
// has an id that keys its cached feature vector.
type Factor struct {
	dim     int
	atoms   [][]float64
	weights []float64
	ids     []uint64
}

// NewFactor returns an empty factor over dim features.
func NewFactor(dim int) *Factor {
	return &Factor{dim: dim}
}

// FactorFromU builds M = U diag(weights) Uᵀ from a d×m matrix. A nil
// weights slice means all ones. Zero columns are skipped.
func FactorFromU(U mat.Matrix, weights []float64) *Factor {
	d, m := U.Dims()
	if weights != nil && len(weights) != m {
		panic(mat.ErrShape)
	}
	f := NewFactor(d)
	for j := 0; j < m; j++ {
		u := mat.Col(nil, j, U)
		norm := floats.Norm(u, 2)
		if norm == 0 {
			continue
		}
		floats.Scale(1/norm, u)
		w := norm * norm
		if weights != nil {
			w *= weights[j]
		}
		f.add(uint64(j), u, w)
	}
	return f
}

// Dim returns the number of features d.
func (f *Factor) Dim() int { return f.dim }

// Rank returns the number of atoms.
func (f *Factor) Rank() int { return len(f.atoms) }

// Atom returns a copy of atom j and its weight.
func (f *Factor) Atom(j int) ([]float64, float64) {
	u := make([]float64, f.dim)
	copy(u, f.atoms[j])
	return u, f.weights[j]
}

// Weights returns a copy of the atom weights.
func (f *Factor) Weights() []float64 {
	out := make([]float64, len(f.weights))
	copy(out, f.weights)
	return out
}

// U returns the d×rank matrix of atoms, or nil for an empty factor.
func (f *Factor) U() *mat.Dense {
	if len(f.atoms) == 0 {
		return nil
	}
	u := mat.NewDense(f.dim, len(f.atoms), nil)
	for j, a := range f.atoms {
		u.SetCol(j, a)
	}
	return u
}

// At returns M[a,b]. The diagonal is always zero.
func (f *Factor) At(a, b int) float64 {
	if a < 0 || a >= f.dim || b < 0 || b >= f.dim {
		panic(mat.ErrIndexOutOfRange)
	}
	if a == b {
		return 0
	}
	var s float64
	for j, u := range f.atoms {
		s += f.weights[j] * u[a] * u[b]
	}
	return s
}

// Clone returns a deep copy.
func (f *Factor) Clone() *Factor {
	g := &Factor{
		dim:     f.dim,
		atoms:   make([][]float64, len(f.atoms)),
		weights: make([]float64, len(f.weights)),
		ids:     make([]uint64, len(f.ids)),
	}
	for j, u := range f.atoms {
		g.atoms[j] = append([]float64(nil), u...)
	}
	copy(g.weights, f.weights)
	copy(g.ids, f.ids)
	return g
}

// FrobeniusNorm returns ‖M‖_F of the zero-diagonal matrix.
func (f *Factor) FrobeniusNorm() float64 {
	return math.Sqrt(offDiagNormSq(f.atoms, f.weights, f.dim))
}

// FrobeniusDistance returns ‖M_f − M_g‖_F without materializing either matrix.
func (f *Factor) FrobeniusDistance(g *Factor) float64 {
	atoms := make([][]float64, 0, len(f.atoms)+len(g.atoms))
	weights := make([]float64, 0, cap(atoms))
	atoms = append(atoms, f.atoms...)
	weights = append(weights, f.weights...)
	atoms = append(atoms, g.atoms...)
	for _, w := range g.weights {
		weights = append(weights, -w)
	}
	return math.Sqrt(offDiagNormSq(atoms, weights, f.dim))
}

// offDiagNormSq computes Σ_{a≠b} M_ab² as
// Σ_ij c_i c_j (v_iᵀv_j)² − Σ_a M_aa².
func offDiagNormSq(atoms [][]float64, weights []float64, dim int) float64 {
	var full float64
	for i := range atoms {
		for j := range atoms {
			g := floats.Dot(atoms[i], atoms[j])
			full += weights[i] * weights[j] * g * g
		}
	}
	var diag float64
	for a := 0; a < dim; a++ {
		var m float64
		for j, u := range atoms {
			m += weights[j] * u[a] * u[a]
		}
		diag += m * m
	}
	if s := full - diag; s > 0 {
		return s
	}
	return 0
}

func (f *Factor) add(id uint64, u []float64, weight float64) {
	f.atoms = append(f.atoms, u)
	f.weights = append(f.weights, weight)
	f.ids = append(f.ids, id)
}
