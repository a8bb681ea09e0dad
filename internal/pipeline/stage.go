// Package pipeline runs the authorization state machine in front of business
// handlers. Each endpoint's security type selects an ordered list of stages;
// the dispatcher runs them until one halts and turns the final state into a
// response or a call to the downstream handler.
package pipeline

import (
	"net/http"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// Outcome tells the dispatcher whether to run the next stage.
type Outcome int

const (
	// Continue runs the next stage.
	Continue Outcome = iota
	// Halt stops the chain. The stage must have moved the context to a
	// terminal state.
	Halt
)

// Stage is one independent unit of the pipeline. Stages read the request and
// advance or fail the security context; they never write responses.
type Stage interface {
	Apply(r *http.Request, sc *models.SecurityContext) Outcome
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(r *http.Request, sc *models.SecurityContext) Outcome

// Apply calls f(r, sc).
func (f StageFunc) Apply(r *http.Request, sc *models.SecurityContext) Outcome {
	return f(r, sc)
}

// Chains maps a security type to the stages run for it, in order.
type Chains map[models.SecurityType][]Stage

// halt fails sc and stops the chain.
func halt(sc *models.SecurityContext, state models.PipelineState, cause error) Outcome {
	sc.Fail(state, cause)
	return Halt
}
