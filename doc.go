// Package slmgo fits sparse low-rank second-order regression models (SLM)
// on sparse data.
//
// An SLM predicts
//
//	ŷ(x) = b + wᵀx + Σ_{a≠c} M_ac x_a x_c
//
// where M = Σ_j λ_j u_j u_jᵀ has low rank and its diagonal is ignored. M is
// never materialized: predictions and training touch only the nonzeros of
// each row, so a fit costs O(nnz·k) per pass.
//
// Training is incremental. Fit(X, y, n) runs at most n further greedy
// iterations and later calls continue from the saved state, so a learning
// curve can be recorded by calling Fit repeatedly with small budgets.
//
// # Installation
//
//	go get github.com/YuminosukeSato/slmgo
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/slmgo/core/sparse"
//	    "github.com/YuminosukeSato/slmgo/slm"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := sparse.FromDense(mat.NewDense(4, 3, []float64{
//	        1, 0, 1,
//	        0, 1, 1,
//	        1, 1, 0,
//	        1, 1, 1,
//	    }))
//	    y := mat.NewVecDense(4, []float64{1, 0.5, 2, 2.5})
//
//	    model := slm.NewSLM(slm.WithRankM(2), slm.WithRandomState(42))
//	    if err := model.Fit(X, y, 10); err != nil {
//	        log.Fatal(err)
//	    }
//	    // ten more iterations on the same data
//	    if err := model.Fit(X, y, 10); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    pred, err := model.Predict(X)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(mat.Formatted(pred.T()))
//	}
//
// # Packages
//
//   - slm: the estimator, its greedy solver and the aggregate cache
//   - core/sparse: CSR/CSC matrices and a row builder
//   - core/model: estimator interfaces and the fitting state machine
//   - core/parallel: chunked parallel loops and ordered reductions
//   - metrics: regression metrics (MSE, RMSE, MAE, R², normalized MSE)
//   - datasets: synthetic sparse problems with a known model
//   - pkg/errors, pkg/log: error types, warnings and structured logging
//
// The examples/learning_curve command reproduces a train/test learning
// curve on synthetic data and can plot it.
//
// # License
//
// slmgo is released under the MIT License.
package slmgo
