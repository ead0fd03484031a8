package platform

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestGuardShouldPauseIngestThreshold(t *testing.T) {
	g := NewGuard(nil, 80.0, zerolog.Nop())

	g.currentCPUx1000.Store(79_000)
	if g.ShouldPauseIngest() {
		t.Fatalf("expected no pause at 79%% against an 80%% threshold")
	}

	g.currentCPUx1000.Store(81_000)
	if !g.ShouldPauseIngest() {
		t.Fatalf("expected a pause at 81%% against an 80%% threshold")
	}
	if got := g.CurrentCPUPercent(); got != 81.0 {
		t.Fatalf("CurrentCPUPercent: got %v want 81.0", got)
	}
}
