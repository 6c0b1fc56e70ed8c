package fleet

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMDNSCandidatesSurvivesBrowseError(t *testing.T) {
	t.Parallel()

	src := NewMDNSSource(func() time.Duration { return 50 * time.Millisecond })
	src.Log = nil
	// A 71-byte label cannot be packed into a DNS query, so Browse fails
	// after its receive loop has started.
	src.Services = []string{"_" + strings.Repeat("x", 70) + "._tcp"}

	done := make(chan []string, 1)
	go func() {
		done <- src.Candidates(context.Background(), "10.0.0")
	}()
	select {
	case got := <-done:
		if len(got) != 0 {
			t.Errorf("Candidates() = %v, want none", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Candidates did not return after a browse error")
	}
}
