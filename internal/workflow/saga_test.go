package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/workflow"
)

func TestSagaCompensatesInReverse(t *testing.T) {
	var trail []string
	step := func(name string, fail bool, compensable bool) workflow.Step {
		s := workflow.Step{
			Name: name,
			Run: func(context.Context) error {
				trail = append(trail, "run:"+name)
				if fail {
					return errors.New(name + " broke")
				}
				return nil
			},
		}
		if compensable {
			s.Compensate = func(context.Context) error {
				trail = append(trail, "undo:"+name)
				return nil
			}
		}
		return s
	}
	saga := workflow.Saga{Name: "test", Steps: []workflow.Step{
		step("one", false, true),
		step("two", false, false),
		step("three", false, true),
		step("four", true, true),
		step("five", false, true),
	}}
	err := saga.Run(context.Background())
	require.Error(t, err)
	var serr *workflow.SagaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "four", serr.Step)
	assert.Equal(t, []string{"one", "two", "three"}, serr.Completed)
	assert.Equal(t, []string{"run:one", "run:two", "run:three", "run:four", "undo:three", "undo:one"}, trail)
}

func TestSagaSkipsDoneSteps(t *testing.T) {
	ran := 0
	saga := workflow.Saga{Name: "test", Steps: []workflow.Step{
		{Name: "done", Skip: func() bool { return true }, Run: func(context.Context) error { ran++; return nil }},
		{Name: "todo", Run: func(context.Context) error { ran++; return nil }},
	}}
	require.NoError(t, saga.Run(context.Background()))
	assert.Equal(t, 1, ran)
}

func TestSagaCollectsCompensationErrors(t *testing.T) {
	saga := workflow.Saga{Name: "test", Steps: []workflow.Step{
		{Name: "a", Run: func(context.Context) error { return nil }, Compensate: func(context.Context) error { return errors.New("stuck") }},
		{Name: "b", Run: func(context.Context) error { return errors.New("nope") }},
	}}
	err := saga.Run(context.Background())
	var serr *workflow.SagaError
	require.True(t, errors.As(err, &serr))
	require.Len(t, serr.CompensationErrors, 1)
	assert.Contains(t, err.Error(), "1 compensation errors")
	assert.Equal(t, "b", workflow.FailedStep(err))
}
