package slm

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/slmgo/core/sparse"
	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// ErrNoImprovement is returned by the selector when no candidate lowers the
// objective.
var ErrNoImprovement = errors.New("slmgo: greedy selector found no improving direction")

const (
	// minRelImprovement is the relative objective decrease a greedy step must
	// achieve to be accepted.
	minRelImprovement = 1e-12
	// powerTol ends power iteration once successive iterates agree up to sign.
	powerTol = 1e-8
)

// fitContext bundles the training matrix, its cached aggregates and the
// solver settings for one Fit call.
type fitContext struct {
	X     *sparse.CSR
	src   Snapshot
	sq    *sparse.CSR
	csc   *sparse.CSC
	stats ColStats
	y     []float64
	cfg   Config
	cache *Cache
	rng   *rand.Rand
}

// newFitContext hashes X once; every aggregate of this Fit call is keyed by
// that snapshot.
func newFitContext(X *sparse.CSR, y []float64, cfg Config, cache *Cache, rng *rand.Rand) *fitContext {
	src := Snap(X)
	return &fitContext{
		X:     X,
		src:   src,
		sq:    cache.Squared(src),
		csc:   cache.CSC(src),
		stats: cache.ColStats(src),
		y:     y,
		cfg:   cfg,
		cache: cache,
		rng:   rng,
	}
}

func (fc *fitContext) rows() int {
	n, _ := fc.X.Dims()
	return n
}

// features returns the cached feature vectors of every atom of f.
func (fc *fitContext) features(f *Factor) [][]float64 {
	out := make([][]float64, f.Rank())
	for j, u := range f.atoms {
		out[j] = fc.cache.Atom(fc.src, f.ids[j], u)
	}
	return out
}

// residual returns y − bias − Xw − Σ_j λ_j a_j for the given state.
func (fc *fitContext) residual(w []float64, bias float64, f *Factor) []float64 {
	r := fc.X.MulVec(nil, w)
	for i := range r {
		r[i] = fc.y[i] - bias - r[i]
	}
	for j, a := range fc.features(f) {
		floats.AddScaled(r, -f.weights[j], a)
	}
	return r
}

// sweepLinear runs one Gauss-Seidel pass over w followed by the exact bias
// update and returns the new bias. Each coordinate step minimizes
// (1/2n)‖r‖² + (λ_w/2)‖w‖² exactly. r is updated in place.
func (fc *fitContext) sweepLinear(w []float64, bias float64, r []float64) float64 {
	n := float64(len(r))
	for j := range w {
		c := fc.stats.SqNorm[j]
		den := c + n*fc.cfg.LambdaW
		if den == 0 {
			continue
		}
		rows, vals := fc.csc.Col(j)
		var dot float64
		for p, i := range rows {
			dot += vals[p] * r[i]
		}
		wj := (dot + c*w[j]) / den
		delta := wj - w[j]
		if delta == 0 {
			continue
		}
		for p, i := range rows {
			r[i] -= vals[p] * delta
		}
		w[j] = wj
	}
	if len(r) == 0 {
		return bias
	}
	shift := floats.Sum(r) / n
	floats.AddConst(-shift, r)
	return bias + shift
}

// gradientOperator applies G = Σ_i r_i (x_i x_iᵀ − diag(x_i∘x_i)), the
// zero-diagonal gradient of the squared loss with respect to M, without
// forming it: G v = Xᵀ(r∘Xv) − ((X∘X)ᵀr)∘v.
type gradientOperator struct {
	X    *sparse.CSR
	r    []float64
	diag []float64
}

func (fc *fitContext) gradient(r []float64) *gradientOperator {
	return &gradientOperator{X: fc.X, r: r, diag: fc.sq.MulVecT(r)}
}

func (g *gradientOperator) apply(v []float64) []float64 {
	z := g.X.MulVec(nil, v)
	for i := range z {
		z[i] *= g.r[i]
	}
	out := g.X.MulVecT(z)
	for l := range out {
		out[l] -= g.diag[l] * v[l]
	}
	return out
}

// leadingDirection finds the eigenvector of G with the largest |eigenvalue|
// by power iteration from a random start.
func (fc *fitContext) leadingDirection(r []float64) ([]float64, error) {
	_, d := fc.X.Dims()
	if d == 0 {
		return nil, ErrNoImprovement
	}
	g := fc.gradient(r)
	v := randomUnit(fc.rng, d)
	for it := 0; it < fc.cfg.PowerIter; it++ {
		next := g.apply(v)
		norm := floats.Norm(next, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, ErrNoImprovement
		}
		floats.Scale(1/norm, next)
		diff := math.Min(floats.Distance(next, v, 2), sumNorm(next, v))
		v = next
		if diff < powerTol {
			break
		}
	}
	return v, nil
}

func sumNorm(a, b []float64) float64 {
	var s float64
	for i := range a {
		t := a[i] + b[i]
		s += t * t
	}
	return math.Sqrt(s)
}

// subspaceStep applies one block power step to basis and returns the new
// orthonormal basis with the distance between the two subspaces.
func (fc *fitContext) subspaceStep(r []float64, basis [][]float64) ([][]float64, float64) {
	_, d := fc.X.Dims()
	g := fc.gradient(r)
	z := make([][]float64, len(basis))
	for j, u := range basis {
		z[j] = g.apply(u)
	}
	next := orthonormalize(z)
	for len(next) < len(basis) {
		next = orthonormalize(append(next, randomUnit(fc.rng, d)))
	}

	var change float64
	for _, q := range next {
		res := append([]float64(nil), q...)
		for _, u := range basis {
			floats.AddScaled(res, -floats.Dot(u, q), u)
		}
		change += floats.Dot(res, res)
	}
	if len(basis) == 0 {
		return next, 0
	}
	return next, math.Sqrt(change / float64(len(basis)))
}

// fitBasis returns a factor over basis with closed-form weights for the
// residual r of a model whose factor is empty.
func (fc *fitContext) fitBasis(basis [][]float64, r []float64, firstID uint64) *Factor {
	_, d := fc.X.Dims()
	f := NewFactor(d)
	feats := make([][]float64, len(basis))
	for j, u := range basis {
		feats[j] = fc.cache.Atom(fc.src, firstID+uint64(j), u)
	}
	lambda := solveRidge(gram(feats, fc.rows()), project(feats, r), fc.cfg.LambdaM)
	alpha := fc.cfg.step()
	for j, u := range basis {
		f.add(firstID+uint64(j), u, alpha*lambda[j])
	}
	return f
}

// candidate is one atom set considered by a greedy step.
type candidate struct {
	atoms  [][]float64
	ids    []uint64
	lambda []float64
	obj    float64
}

// greedyStep adds the leading direction of G(r) to f and refits every atom
// weight in closed form. When the rank would exceed the target it keeps the
// best of dropping any single atom or truncating to the top eigenspace.
// nextID is the first unused atom id; the returned count says how many ids
// were consumed.
func (fc *fitContext) greedyStep(f *Factor, r []float64, nextID uint64) (*Factor, uint64, error) {
	u, err := fc.leadingDirection(r)
	if err != nil {
		return nil, 0, err
	}
	n := fc.rows()
	k := fc.cfg.RankM
	alpha := fc.cfg.step()
	ridge := fc.cfg.LambdaM

	m := f.Rank()
	atoms := append(append([][]float64(nil), f.atoms...), u)
	ids := append(append([]uint64(nil), f.ids...), nextID)
	feats := append(fc.features(f), fc.cache.Atom(fc.src, nextID, u))
	used := uint64(1)

	// t is the part of y the factor is asked to explain.
	t := append([]float64(nil), r...)
	for j := 0; j < m; j++ {
		floats.AddScaled(t, f.weights[j], feats[j])
	}
	tt := floats.Dot(t, t) / float64(n)
	K := gram(feats, n)
	b := project(feats, t)

	cur := append(append([]float64(nil), f.weights...), 0)
	all := make([]int, m+1)
	for i := range all {
		all[i] = i
	}
	current := quadObjective(tt, K, b, cur, ridge)

	subsets := [][]int{all}
	if m+1 > k {
		subsets = subsets[:0]
		for drop := 0; drop <= m; drop++ {
			s := make([]int, 0, m)
			for _, i := range all {
				if i != drop {
					s = append(s, i)
				}
			}
			subsets = append(subsets, s)
		}
	}

	var best *candidate
	for _, s := range subsets {
		Ks, bs := subSym(K, s), subVec(b, s)
		opt := solveRidge(Ks, bs, ridge)
		lambda := blend(subVec(cur, s), opt, alpha)
		c := &candidate{
			atoms:  pick(atoms, s),
			ids:    pickIDs(ids, s),
			lambda: lambda,
			obj:    quadObjective(tt, Ks, bs, lambda, ridge),
		}
		if best == nil || c.obj < best.obj {
			best = c
		}
	}

	if m+1 > k && alpha == 1 && k > 0 {
		full := solveRidge(K, b, ridge)
		if c := fc.truncated(atoms, full, k, t, nextID+1); c != nil {
			used += uint64(len(c.ids))
			if c.obj < best.obj {
				best = c
			}
		}
	}

	if current-best.obj <= minRelImprovement*math.Abs(current) {
		for id := nextID; id < nextID+used; id++ {
			fc.cache.EvictAtom(fc.src, id)
		}
		return nil, used, ErrNoImprovement
	}

	_, d := fc.X.Dims()
	next := NewFactor(d)
	kept := make(map[uint64]bool, len(best.ids))
	for j, a := range best.atoms {
		next.add(best.ids[j], a, best.lambda[j])
		kept[best.ids[j]] = true
	}
	for _, id := range ids {
		if !kept[id] {
			fc.cache.EvictAtom(fc.src, id)
		}
	}
	for id := nextID + 1; id < nextID+used; id++ {
		if !kept[id] {
			fc.cache.EvictAtom(fc.src, id)
		}
	}
	return next, used, nil
}

// truncated builds the candidate spanned by the top-k eigenvectors (by
// |eigenvalue|) of Σ_j λ_j u_j u_jᵀ and refits its weights. It returns nil
// when the atoms do not span k directions.
func (fc *fitContext) truncated(atoms [][]float64, lambda []float64, k int, t []float64, firstID uint64) *candidate {
	q := orthonormalize(atoms)
	if len(q) < k {
		return nil
	}
	// S = R diag(λ) Rᵀ with R = QᵀU
	r := mat.NewDense(len(q), len(atoms), nil)
	for i, qi := range q {
		for j, u := range atoms {
			r.Set(i, j, floats.Dot(qi, u))
		}
	}
	s := mat.NewSymDense(len(q), nil)
	for i := 0; i < len(q); i++ {
		for j := i; j < len(q); j++ {
			var v float64
			for l := range atoms {
				v += r.At(i, l) * lambda[l] * r.At(j, l)
			}
			s.SetSym(i, j, v)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(values[order[a]]) > math.Abs(values[order[b]])
	})

	_, d := fc.X.Dims()
	n := fc.rows()
	c := &candidate{}
	feats := make([][]float64, 0, k)
	for j := 0; j < k; j++ {
		coef := mat.Col(nil, order[j], &vecs)
		v := make([]float64, d)
		for i, qi := range q {
			floats.AddScaled(v, coef[i], qi)
		}
		id := firstID + uint64(j)
		c.atoms = append(c.atoms, v)
		c.ids = append(c.ids, id)
		feats = append(feats, fc.cache.Atom(fc.src, id, v))
	}
	K := gram(feats, n)
	b := project(feats, t)
	c.lambda = solveRidge(K, b, fc.cfg.LambdaM)
	c.obj = quadObjective(floats.Dot(t, t)/float64(n), K, b, c.lambda, fc.cfg.LambdaM)
	return c
}

// blend moves from cur toward opt by alpha.
func blend(cur, opt []float64, alpha float64) []float64 {
	if alpha == 1 {
		return opt
	}
	out := make([]float64, len(cur))
	for i := range cur {
		out[i] = cur[i] + alpha*(opt[i]-cur[i])
	}
	return out
}

func pick(atoms [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, a := range idx {
		out[i] = atoms[a]
	}
	return out
}

func pickIDs(ids []uint64, idx []int) []uint64 {
	out := make([]uint64, len(idx))
	for i, a := range idx {
		out[i] = ids[a]
	}
	return out
}
