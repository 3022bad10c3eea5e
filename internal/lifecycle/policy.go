package lifecycle

import "github.com/mariomelembe98/necrologia-tempo/internal/db"

// TransitionPolicy decides which status transitions are allowed, for
// moderation and for publication by payment. Moving to the current status
// is always accepted and never reaches the policy.
type TransitionPolicy interface {
	Allow(from, to db.Status) bool
}

// PermissiveTransitions allows any status to move to any other status.
type PermissiveTransitions struct{}

func (PermissiveTransitions) Allow(from, to db.Status) bool {
	return from.Valid() && to.Valid()
}

// StrictTransitions follows the moderation graph:
//
//	pending   -> published | rejected
//	published -> archived
//	rejected  -> pending | published | archived
//
// archived is terminal.
type StrictTransitions struct{}

var strictGraph = map[db.Status][]db.Status{
	db.StatusPending:   {db.StatusPublished, db.StatusRejected},
	db.StatusPublished: {db.StatusArchived},
	db.StatusRejected:  {db.StatusPending, db.StatusPublished, db.StatusArchived},
}

func (StrictTransitions) Allow(from, to db.Status) bool {
	for _, s := range strictGraph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PolicyFor returns the strict table when strict is set.
func PolicyFor(strict bool) TransitionPolicy {
	if strict {
		return StrictTransitions{}
	}
	return PermissiveTransitions{}
}
