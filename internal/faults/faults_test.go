package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient wrap", Transient("bus publish", errors.New("bus unreachable")), true},
		{"wrapped transient", fmt.Errorf("cycle failed: %w", Transient("op", errors.New("x"))), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("event: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, true},
		{"validation", &ValidationError{Field: "eventType", Reason: "missing"}, false},
		{"config", &ConfigError{ConfigID: "c1", Err: errors.New("gone")}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClassificationIsDisjoint(t *testing.T) {
	validation := &ValidationError{Field: "entity.id", Reason: "missing"}
	assert.True(t, IsValidation(validation))
	assert.False(t, IsConfig(validation))
	assert.False(t, IsTransient(validation))

	config := &ConfigError{ConfigID: "c1", Err: errors.New("not found")}
	assert.True(t, IsConfig(config))
	assert.False(t, IsValidation(config))
	assert.False(t, IsTransient(config))

	// Wrapping preserves the classification
	wrapped := fmt.Errorf("pipeline: %w", validation)
	assert.True(t, IsValidation(wrapped))
}

func TestConfigErrorUnwraps(t *testing.T) {
	cause := errors.New("store down")
	err := &ConfigError{ConfigID: "c1", Err: cause}
	assert.ErrorIs(t, err, cause)

	transient := Transient("config lookup", cause)
	assert.ErrorIs(t, transient, cause)
}
