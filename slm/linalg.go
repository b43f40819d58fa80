package slm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// eigenRelTol drops eigenvalues below this fraction of the largest one when
// inverting small symmetric systems.
const eigenRelTol = 1e-12

// gram returns the n-normalized Gram matrix AᵀA/n of the columns in feats.
func gram(feats [][]float64, n int) *mat.SymDense {
	m := len(feats)
	k := mat.NewSymDense(m, nil)
	inv := 1 / float64(n)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			k.SetSym(i, j, floats.Dot(feats[i], feats[j])*inv)
		}
	}
	return k
}

// project returns Aᵀt/n.
func project(feats [][]float64, t []float64) []float64 {
	out := make([]float64, len(feats))
	inv := 1 / float64(len(t))
	for j, a := range feats {
		out[j] = floats.Dot(a, t) * inv
	}
	return out
}

// solveRidge returns argmin ½λᵀ(K+ridge·I)λ − bᵀλ through an eigen
// decomposition, treating near-null directions as zero.
func solveRidge(k *mat.SymDense, b []float64, ridge float64) []float64 {
	m := len(b)
	out := make([]float64, m)
	if m == 0 {
		return out
	}
	a := mat.NewSymDense(m, nil)
	a.CopySym(k)
	for i := 0; i < m; i++ {
		a.SetSym(i, i, a.At(i, i)+ridge)
	}

	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return out
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	maxAbs := floats.Max(absAll(values))
	if maxAbs == 0 {
		return out
	}
	for i, e := range values {
		if math.Abs(e) <= eigenRelTol*maxAbs {
			continue
		}
		col := mat.Col(nil, i, &vecs)
		coef := floats.Dot(col, b) / e
		floats.AddScaled(out, coef, col)
	}
	return out
}

// quadObjective evaluates ½tt − bᵀλ + ½λᵀ(K+ridge·I)λ.
func quadObjective(tt float64, k *mat.SymDense, b, lambda []float64, ridge float64) float64 {
	m := len(lambda)
	obj := 0.5*tt - floats.Dot(b, lambda)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			obj += 0.5 * lambda[i] * k.At(i, j) * lambda[j]
		}
		obj += 0.5 * ridge * lambda[i] * lambda[i]
	}
	return obj
}

// subSym extracts the rows and columns idx of k.
func subSym(k *mat.SymDense, idx []int) *mat.SymDense {
	out := mat.NewSymDense(len(idx), nil)
	for i, a := range idx {
		for j := i; j < len(idx); j++ {
			out.SetSym(i, j, k.At(a, idx[j]))
		}
	}
	return out
}

func subVec(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, a := range idx {
		out[i] = v[a]
	}
	return out
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

// orthonormalize runs modified Gram-Schmidt over cols in place order and
// returns the columns that kept a norm above tol relative to their input.
func orthonormalize(cols [][]float64) [][]float64 {
	const tol = 1e-10
	out := make([][]float64, 0, len(cols))
	for _, c := range cols {
		v := append([]float64(nil), c...)
		n0 := floats.Norm(v, 2)
		if n0 == 0 || math.IsNaN(n0) {
			continue
		}
		for _, q := range out {
			floats.AddScaled(v, -floats.Dot(q, v), q)
		}
		n := floats.Norm(v, 2)
		if n <= tol*n0 {
			continue
		}
		floats.Scale(1/n, v)
		out = append(out, v)
	}
	return out
}

// randomUnit draws a direction uniformly on the sphere.
func randomUnit(rng *rand.Rand, d int) []float64 {
	for {
		v := make([]float64, d)
		for i := range v {
			v[i] = rng.NormFloat64()
		}
		if n := floats.Norm(v, 2); n > 0 {
			floats.Scale(1/n, v)
			return v
		}
	}
}

// randomBasis returns k orthonormal directions. When k exceeds d only d
// directions exist.
func randomBasis(rng *rand.Rand, d, k int) [][]float64 {
	if k > d {
		k = d
	}
	basis := make([][]float64, 0, k)
	for len(basis) < k {
		basis = orthonormalize(append(basis, randomUnit(rng, d)))
	}
	return basis
}
