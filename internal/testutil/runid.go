package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates predictable run ids: "<prefix>-0001", "<prefix>-0002", ...
//
// This enables golden comparison of run reports. Implements the
// func() string shape taken by bot.WithRunIDs.
//
// If prefix is empty, "test-run" is used.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRunIDs creates a run id generator.
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

// Next returns the next run id.
func (g *SequentialRunIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
