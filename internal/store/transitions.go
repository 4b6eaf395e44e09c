package store

import "svcqueue/internal/models"

// transitionMap enumerates which entry statuses each action is legal from.
// It is the action-table half of the action state machine; the other half
// (lane invariants such as "has a successor" or "is at the head") is
// enforced by the engine against the loaded lane, not here.
var transitionMap = map[models.HistoryAction][]models.EntryStatus{
	models.ActionSkip:    {models.EntryInQueue},
	models.ActionHold:    {models.EntryInQueue},
	models.ActionUnhold:  {models.EntryHold},
	models.ActionRemove:  {models.EntryInQueue, models.EntryHold, models.EntrySkipped},
	models.ActionNext:    {models.EntryInQueue},
	models.ActionAddTime: {models.EntryInQueue, models.EntryHold, models.EntrySkipped},
}

// ValidTransition reports whether action may be applied to an entry
// currently in status from.
func ValidTransition(action models.HistoryAction, from models.EntryStatus) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == from {
			return true
		}
	}
	return false
}
