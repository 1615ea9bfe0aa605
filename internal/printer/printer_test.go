package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/dyluth/depi/pkg/depi"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects Out and ErrOut for the duration of a test.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevColor := Out, ErrOut, color.NoColor
	Out, ErrOut, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Out, ErrOut, color.NoColor = prevOut, prevErr, prevColor })
	return &out, &errOut
}

func TestError(t *testing.T) {
	_, errOut := capture(t)

	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", nil)
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		errOut.Reset()
		err := Error("Test Error", "Explanation", []string{"Fix 1", "Fix 2"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:")
		assert.Contains(t, errOut.String(), "  2. Fix 2")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)

	err := ErrorWithContext("Test Error", "Explanation", map[string]string{"Branch": "dev"}, []string{"Fix it"})
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, errOut.String(), "  Branch: dev")
	assert.Contains(t, errOut.String(), "Fix it")
}

func TestExplain(t *testing.T) {
	tests := []struct {
		kind  depi.Kind
		title string
		hint  string
	}{
		{depi.KindVersionConflict, "Blackboard out of date", "Clear the blackboard"},
		{depi.KindIntegrity, "Inconsistent graph data", "Reload the model"},
		{depi.KindAuth, "Not logged in", "depi login"},
		{depi.KindUnreachable, "Graph service unreachable", "retried"},
		{depi.KindScope, "Not available on this branch", "main"},
		{depi.KindBusy, "Another change is in progress", "retry"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := Explain(fmt.Errorf("wrapped: %w", depi.Errorf(tt.kind, "op", "the detail")))
			assert.Equal(t, tt.title, e.Title)
			assert.Equal(t, "the detail", e.Detail)
			require.NotEmpty(t, e.Suggestions)
			assert.Contains(t, e.Suggestions[0], tt.hint)
			assert.Contains(t, e.Message(), tt.title+": the detail. ")
		})
	}

	t.Run("plain error", func(t *testing.T) {
		e := Explain(errors.New("boom"))
		assert.Equal(t, "Operation failed", e.Title)
		assert.Equal(t, "Operation failed: boom", e.Message())
	})
}

func TestDepiError(t *testing.T) {
	_, errOut := capture(t)

	err := DepiError(depi.Errorf(depi.KindVersionConflict, "saveBlackboard", "group repo-1 moved to v2"))
	assert.Equal(t, "Blackboard out of date", err.Error())
	assert.Contains(t, errOut.String(), "group repo-1 moved to v2")
	assert.Contains(t, errOut.String(), "Clear the blackboard")
}

func TestDepiError_AlreadyPrinted(t *testing.T) {
	_, errOut := capture(t)

	first := Error("no user configured", "", nil)
	assert.True(t, IsPrinted(first))
	printed := errOut.Len()

	again := DepiError(fmt.Errorf("connect: %w", first))
	assert.Equal(t, printed, errOut.Len())
	assert.True(t, IsPrinted(again))
	assert.False(t, IsPrinted(depi.Errorf(depi.KindAuth, "login", "bad password")))
}

func TestSuccessAndWarning(t *testing.T) {
	out, _ := capture(t)

	Success("saved\n")
	Warning("careful\n")
	Step("working\n")
	assert.Equal(t, "✓ saved\n⚠️  careful\n→ working\n", out.String())
}
