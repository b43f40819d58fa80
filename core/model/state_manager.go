// Package model provides the estimator interfaces and the state bookkeeping
// shared by incremental estimators.
package model

import (
	"fmt"
	"sync"

	"github.com/YuminosukeSato/slmgo/pkg/errors"
)

// StateManager tracks the fitting phase, the shape seen at first fit and the
// lifetime iteration counters of a model.
type StateManager struct {
	mu sync.RWMutex

	phase          Phase
	nFeatures      int
	nSamples       int
	iterations     int
	initIterations int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// Phase returns the current phase.
func (s *StateManager) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// IsFitted reports whether the model has been shaped by a Fit call.
func (s *StateManager) IsFitted() bool {
	return s.Phase().Shaped()
}

// Advance moves to the next phase, panicking on an illegal transition.
func (s *StateManager) Advance(next Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.CanAdvance(next) {
		panic(fmt.Sprintf("model: illegal phase transition %s -> %s", s.phase, next))
	}
	s.phase = next
}

// Shape records the input dimensions and moves Uninitialized to Initializing.
func (s *StateManager) Shape(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Uninitialized {
		panic("model: Shape called twice")
	}
	s.nFeatures = nFeatures
	s.nSamples = nSamples
	s.phase = Initializing
}

// GetDimensions returns the number of features and samples seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nFeatures, s.nSamples
}

// AddIterations adds to the lifetime iteration counter.
func (s *StateManager) AddIterations(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations += n
}

// AddInitIterations adds to the initialization round counter.
func (s *StateManager) AddInitIterations(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initIterations += n
}

// Iterations returns the lifetime iteration counter.
func (s *StateManager) Iterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iterations
}

// InitIterations returns the number of initialization rounds run.
func (s *StateManager) InitIterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initIterations
}

// Reset returns to Uninitialized and clears dimensions and counters.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Uninitialized
	s.nFeatures = 0
	s.nSamples = 0
	s.iterations = 0
	s.initIterations = 0
}

// RequireFitted returns a NotFittedError if the model has not been shaped.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures checks the column count against the one recorded at shaping.
func (s *StateManager) RequireFeatures(op string, got int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if got != s.nFeatures {
		return errors.NewDimensionError(op, s.nFeatures, got, 1)
	}
	return nil
}

// ModelState is a snapshot of the bookkeeping, used for debugging and logs.
type ModelState struct {
	Phase          string `json:"phase"`
	NFeatures      int    `json:"n_features,omitempty"`
	NSamples       int    `json:"n_samples,omitempty"`
	Iterations     int    `json:"iterations"`
	InitIterations int    `json:"init_iterations"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ModelState{
		Phase:          s.phase.String(),
		NFeatures:      s.nFeatures,
		NSamples:       s.nSamples,
		Iterations:     s.iterations,
		InitIterations: s.initIterations,
	}
}
