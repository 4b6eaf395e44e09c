package store

import (
	"testing"

	"svcqueue/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action models.HistoryAction
		from   models.EntryStatus
		valid  bool
	}{
		{models.ActionSkip, models.EntryInQueue, true},
		{models.ActionSkip, models.EntryHold, false},
		{models.ActionHold, models.EntryInQueue, true},
		{models.ActionHold, models.EntryHold, false},
		{models.ActionUnhold, models.EntryHold, true},
		{models.ActionUnhold, models.EntryInQueue, false},
		{models.ActionRemove, models.EntryInQueue, true},
		{models.ActionRemove, models.EntryHold, true},
		{models.ActionRemove, models.EntrySkipped, true},
		{models.ActionRemove, models.EntryComplete, false},
		{models.ActionNext, models.EntryInQueue, true},
		{models.ActionNext, models.EntryHold, false},
		{models.ActionAddTime, models.EntryInQueue, true},
		{models.ActionAddTime, models.EntrySkipped, true},
		{models.ActionAddTime, models.EntryComplete, false},
		{models.ActionUndo, models.EntryInQueue, false},
		{models.HistoryAction("unknown"), models.EntryInQueue, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
