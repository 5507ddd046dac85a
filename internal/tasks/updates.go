package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
}

// Operation phase enumeration
type Phase int

const (
	FetchingBlockList Phase = iota
	UpsertBlocked
	PruneBlocked
)

func (p Phase) String() string {
	switch p {
	case FetchingBlockList:
		return "fetch_block_list"
	case UpsertBlocked:
		return "upsert_blocked"
	case PruneBlocked:
		return "prune_blocked"
	default:
		return ""
	}
}

// sendProgress never blocks; updates are dropped when nobody is reading.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchBlockListUpdate(source string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchingBlockList,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching block list from %s...", source),
	}
}

func upsertBlockedUpdate(step, total int, domain string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   UpsertBlocked,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Stored %d/%d: %s", step, total, domain),
	}
}

func pruneBlockedUpdate(deleted int, batch string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PruneBlocked,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Removed %d entries not in batch %s", deleted, batch),
	}
}
