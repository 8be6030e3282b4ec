package fn

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAllFailed is returned by FirstOk when no step produced a value.
var ErrAllFailed = errors.New("all fallback steps failed")

// Step is one named alternative in an ordered fallback chain.
type Step[T any] struct {
	Name string
	Run  func(context.Context) Result[T]
}

// Attempt records the outcome of one Step.
type Attempt struct {
	Step string
	Err  error
}

// Trace is the ordered list of attempts made by FirstOk.
type Trace []Attempt

// Failures returns only the attempts that failed.
func (t Trace) Failures() []Attempt {
	return Filter(t, func(a Attempt) bool { return a.Err != nil })
}

// String renders the trace as "step: reason" pairs, "ok" for the winner.
func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, a := range t {
		if a.Err != nil {
			parts[i] = fmt.Sprintf("%s: %v", a.Step, a.Err)
		} else {
			parts[i] = a.Step + ": ok"
		}
	}
	return strings.Join(parts, "; ")
}

// FirstOk runs steps in order and returns the first Ok result. A step may
// reject a value by returning Err; its reason is kept in the trace.
func FirstOk[T any](ctx context.Context, steps ...Step[T]) (Result[T], Trace) {
	trace := make(Trace, 0, len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			trace = append(trace, Attempt{Step: s.Name, Err: err})
			return Err[T](err), trace
		}
		r := s.Run(ctx)
		trace = append(trace, Attempt{Step: s.Name, Err: r.err})
		if r.IsOk() {
			return r, trace
		}
	}
	return Err[T](fmt.Errorf("%w: %s", ErrAllFailed, trace)), trace
}
