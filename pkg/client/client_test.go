package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole() *Console {
	return &Console{answers: make(chan bool, 1)}
}

func TestInterceptIgnoresLinesWithoutPendingConfirmation(t *testing.T) {
	c := newTestConsole()

	// Ordinary console input must reach the command loop untouched.
	assert.False(t, c.intercept("status"))
	assert.False(t, c.intercept("y"))
}

func TestInterceptClaimsAnswerForPendingConfirmation(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"y", true},
		{"yes", true},
		{"  Y  ", true},
		{"n", false},
		{"no", false},
		{"", false},
		{"whatever", false},
	}

	for _, tt := range tests {
		c := newTestConsole()
		c.pending.Store(true)

		require.True(t, c.intercept(tt.line), "line %q must be consumed as the answer", tt.line)
		assert.Equal(t, tt.want, c.awaitAnswer(time.Second), "line %q", tt.line)

		// The claim is one-shot: the next line is ordinary input again.
		assert.False(t, c.intercept(tt.line))
	}
}

func TestAwaitAnswerTimeoutDeclines(t *testing.T) {
	c := newTestConsole()
	c.pending.Store(true)

	require.False(t, c.awaitAnswer(10*time.Millisecond))

	// The expired prompt must not swallow a later line.
	assert.False(t, c.intercept("y"))
}
