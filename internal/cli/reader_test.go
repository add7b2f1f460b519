package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader_ReadLine(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedValue string
		expectError   bool
	}{
		{name: "successful read", input: "pay\n", expectedValue: "pay"},
		{name: "extra whitespace", input: "  y  \n", expectedValue: "y"},
		{name: "empty line", input: "\n", expectedValue: ""},
		{name: "no trailing newline", input: "2", expectedValue: "2"},
		{name: "end of input", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewLineReader(strings.NewReader(tt.input)).ReadLine(context.Background())
			if tt.expectError {
				assert.ErrorIs(t, err, io.EOF)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, result)
		})
	}
}

func TestLineReader_ContextCancellation(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewLineReader(strings.NewReader("y\n")).ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer func() { _ = pr.Close() }()
		defer func() { _ = pw.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := NewLineReader(pr).ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})
}

func TestLineReader_MultipleReads(t *testing.T) {
	reader := NewLineReader(strings.NewReader("1\ns\nk\n"))
	ctx := context.Background()

	for _, want := range []string{"1", "s", "k"} {
		got, err := reader.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
