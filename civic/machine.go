/*
machine.go - Issue status transition policy

PURPOSE:
  Represents the legal status workflow as data: a lookup from current status
  to the set of statuses it may move to. The workflow package consults this
  inside the transaction that performs the write, so a transition is never
  applied against a stale status.

WHY A POLICY VALUE INSTEAD OF A HARD-CODED GRAPH?
  The intended graph is product policy, not physics. Operators may want a
  looser flow (e.g. let verification be skipped) without touching the engine,
  so legality is configurable and the default below is just the shipped
  policy. PermissiveTransitionPolicy exists for deployments that want the
  old any-to-any behavior.

DEFAULT GRAPH:
  reported    -> verified, rejected
  verified    -> assigned, rejected
  assigned    -> in_progress
  in_progress -> resolved, closed
  resolved, closed, rejected are terminal (no outgoing edges)
*/
package civic

// TransitionPolicy maps each status to the statuses it may move to.
// A status with no entry (or an empty set) is terminal.
type TransitionPolicy map[Status][]Status

// DefaultTransitionPolicy returns the shipped workflow graph.
func DefaultTransitionPolicy() TransitionPolicy {
	return TransitionPolicy{
		StatusReported:   {StatusVerified, StatusRejected},
		StatusVerified:   {StatusAssigned, StatusRejected},
		StatusAssigned:   {StatusInProgress},
		StatusInProgress: {StatusResolved, StatusClosed},
	}
}

// PermissiveTransitionPolicy allows any status to move to any other status.
// This matches legacy deployments that never enforced a graph.
func PermissiveTransitionPolicy() TransitionPolicy {
	all := []Status{
		StatusReported, StatusVerified, StatusAssigned, StatusInProgress,
		StatusResolved, StatusClosed, StatusRejected,
	}
	p := make(TransitionPolicy, len(all))
	for _, from := range all {
		for _, to := range all {
			if to != from {
				p[from] = append(p[from], to)
			}
		}
	}
	return p
}

// Allowed reports whether the policy permits moving from one status to
// another. Moving to the current status is never allowed.
func (p TransitionPolicy) Allowed(from, to Status) bool {
	if from == to {
		return false
	}
	for _, s := range p[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing edges under this policy.
func (p TransitionPolicy) Terminal(s Status) bool {
	return len(p[s]) == 0
}
