package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{name: "with custom writer", writer: &bytes.Buffer{}},
		{name: "with nil writer", writer: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer, "Reconciliation", "")
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterruptHandler_Message(t *testing.T) {
	tests := []struct {
		name        string
		hint        string
		wantContain []string
		wantMissing []string
	}{
		{
			name:        "with resume hint",
			hint:        "Processed transactions are saved. Run fees reconcile run again to continue.",
			wantContain: []string{"Reconciliation interrupted!", "fees reconcile run again"},
		},
		{
			name:        "without resume hint",
			wantContain: []string{"Reconciliation interrupted!"},
			wantMissing: []string{"Run fees"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &syncBuffer{}
			handler := NewInterruptHandler(output, "Reconciliation", tt.hint)

			handler.interrupt()

			assert.True(t, handler.WasInterrupted())
			for _, want := range tt.wantContain {
				assert.Contains(t, output.String(), want)
			}
			for _, missing := range tt.wantMissing {
				assert.NotContains(t, output.String(), missing)
			}
		})
	}
}

func TestInterruptHandler_MessageShownOnce(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output, "Reconciliation", "")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.interrupt()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, strings.Count(output.String(), "interrupted!"))
}

func TestInterruptHandler_ParentCancellation(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output, "Reconciliation", "")

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := handler.HandleInterrupts(parent)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled initially")
	default:
	}

	cancelParent()
	<-ctx.Done()

	assert.False(t, handler.WasInterrupted(), "a canceled parent is not an interrupt")
	assert.Empty(t, output.String())
}
