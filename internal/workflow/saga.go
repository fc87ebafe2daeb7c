package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step is one forward action of a saga and its optional compensation.
// A nil Compensate means the step cannot be undone.
type Step struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	// Skip reports whether the step already happened in an earlier attempt.
	Skip func() bool
}

// Saga runs steps in order. When a step fails the completed steps are
// compensated in reverse order.
type Saga struct {
	Name   string
	Steps  []Step
	Logger *slog.Logger
}

// SagaError reports which step failed and what was already done.
type SagaError struct {
	Saga               string
	Step               string
	Completed          []string
	Cause              error
	CompensationErrors []error
}

func (e *SagaError) Error() string {
	msg := fmt.Sprintf("%s saga failed at %s", e.Saga, e.Step)
	if len(e.Completed) > 0 {
		msg += fmt.Sprintf(" after %s", strings.Join(e.Completed, ","))
	}
	msg += ": " + e.Cause.Error()
	if len(e.CompensationErrors) > 0 {
		msg += fmt.Sprintf(" (%d compensation errors)", len(e.CompensationErrors))
	}
	return msg
}

func (e *SagaError) Unwrap() error { return e.Cause }

// Run executes the saga. Steps without compensation stay applied on failure.
func (s Saga) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := tracer.Start(ctx, "saga."+s.Name,
		trace.WithAttributes(attribute.String("saga.name", s.Name), attribute.Int("saga.steps", len(s.Steps))))
	defer span.End()

	var done []Step
	var completed []string
	for _, step := range s.Steps {
		if step.Skip != nil && step.Skip() {
			span.AddEvent("step skipped", trace.WithAttributes(attribute.String("saga.step", step.Name)))
			completed = append(completed, step.Name)
			continue
		}
		if err := step.Run(ctx); err != nil {
			span.SetAttributes(attribute.String("saga.failed_step", step.Name))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("saga step failed", "saga", s.Name, "step", step.Name, "err", err)
			serr := &SagaError{Saga: s.Name, Step: step.Name, Completed: completed, Cause: err}
			for i := len(done) - 1; i >= 0; i-- {
				c := done[i]
				if c.Compensate == nil {
					continue
				}
				if cerr := c.Compensate(ctx); cerr != nil {
					logger.Error("saga compensation failed", "saga", s.Name, "step", c.Name, "err", cerr)
					serr.CompensationErrors = append(serr.CompensationErrors, fmt.Errorf("%s: %w", c.Name, cerr))
				}
			}
			return serr
		}
		done = append(done, step)
		completed = append(completed, step.Name)
	}
	return nil
}

// FailedStep returns the step name of a SagaError in err's chain.
func FailedStep(err error) string {
	var serr *SagaError
	if errors.As(err, &serr) {
		return serr.Step
	}
	return ""
}
