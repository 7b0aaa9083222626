package ordersync

import (
	"strings"
	"testing"
)

func TestSummarizeOutcomes(t *testing.T) {
	outcomes := []Outcome{
		{OrderId: 1, Success: true},
		{OrderId: 2, Success: true},
		{OrderId: 3, Conflict: true, Error: "remote version conflict"},
		{OrderId: 4, Error: "remote returned status 500", ErrorCode: string(ErrorKindRejection)},
		{OrderId: 5, Skipped: true},
	}

	result := summarizeOutcomes(outcomes)
	if result.TotalOrders != 4 {
		t.Fatalf("skipped orders must not count, got total %d", result.TotalOrders)
	}
	if result.SuccessfulSyncs != 2 || result.FailedSyncs != 1 || result.ConflictCount != 1 {
		t.Fatalf("counts wrong: %+v", result)
	}
	if !strings.Contains(result.ErrorSummary, "order 4") {
		t.Fatalf("error summary should name the failed order: %q", result.ErrorSummary)
	}
}

func TestSummarizeOutcomesCapsErrorSummary(t *testing.T) {
	var outcomes []Outcome
	for i := 1; i <= 20; i++ {
		outcomes = append(outcomes, Outcome{OrderId: i, Error: "boom"})
	}

	result := summarizeOutcomes(outcomes)
	if result.FailedSyncs != 20 {
		t.Fatalf("expected 20 failures, got %d", result.FailedSyncs)
	}
	if parts := strings.Split(result.ErrorSummary, "; "); len(parts) != 5 {
		t.Fatalf("error summary should cap at 5 entries, got %d", len(parts))
	}
}

func TestSummarizeOutcomesEmpty(t *testing.T) {
	result := summarizeOutcomes(nil)
	if result.TotalOrders != 0 || result.ErrorSummary != "" {
		t.Fatalf("empty batch should summarize to zeros: %+v", result)
	}
}
