package mocks

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingRunner captures every command the pipeline issues and answers
// from a canned response table, so the destructive stages can be exercised
// without a disk.
type RecordingRunner struct {
	mu          sync.Mutex
	Commands    []string
	Interactive []string

	// Responses maps a command substring to its canned output.
	Responses map[string]string
	// Failures maps a command substring to an error.
	Failures map[string]error
}

func NewRecordingRunner() *RecordingRunner {
	return &RecordingRunner{
		Responses: map[string]string{},
		Failures:  map[string]error{},
	}
}

func (r *RecordingRunner) Run(cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, cmd)
	for k, err := range r.Failures {
		if strings.Contains(cmd, k) {
			return "", err
		}
	}
	for k, out := range r.Responses {
		if strings.Contains(cmd, k) {
			return out, nil
		}
	}
	return "", nil
}

func (r *RecordingRunner) RunInteractive(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Interactive = append(r.Interactive, cmd)
	for k, err := range r.Failures {
		if strings.Contains(cmd, k) {
			return err
		}
	}
	return nil
}

// Ran reports whether any recorded command contains the substring.
func (r *RecordingRunner) Ran(substr string) bool {
	return r.indexOf(substr) >= 0
}

// RanInOrder reports whether the substrings appear in recorded order.
func (r *RecordingRunner) RanInOrder(substrs ...string) error {
	last := -1
	for _, s := range substrs {
		idx := r.indexAfter(s, last)
		if idx < 0 {
			return fmt.Errorf("command containing %q not found after position %d", s, last)
		}
		last = idx
	}
	return nil
}

func (r *RecordingRunner) indexOf(substr string) int {
	return r.indexAfter(substr, -1)
}

func (r *RecordingRunner) indexAfter(substr string, after int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cmd := range r.Commands {
		if i > after && strings.Contains(cmd, substr) {
			return i
		}
	}
	return -1
}
