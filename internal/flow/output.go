package flow

import "github.com/basketd/basketd/internal/session"

// Output is the result of one flow execution. It is created fresh per
// turn and consumed by the response step; it is never persisted.
type Output struct {
	Success    bool
	FailReason string
	Summary    string
	Details    map[string]any
}

// apologyMessage is the uniform reply for a failed turn. The response
// step never attempts partial success reporting.
const apologyMessage = "I'm sorry, I couldn't complete your request due to an internal problem. Please try again."

// turnState is the per-turn scratch state threaded through the flow steps.
// Once fail is set every remaining step is a no-op and the response step
// emits the generic apology.
type turnState struct {
	fail       bool
	errMsg     string
	tags       []string
	beforeCart []session.Product
	output     Output
}

// failWith marks the turn failed and records the output for the response step.
func (t *turnState) failWith(errMsg string, out Output) {
	t.fail = true
	t.errMsg = errMsg
	t.output = out
}
