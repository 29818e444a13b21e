package connection

import "sort"

// subscriptionSet tracks the topics the client wants to receive. It survives
// reconnects: the full set is re-announced on every successful open.
//
// Only the Manager's event loop touches it, so no locking is needed.
type subscriptionSet struct {
	topics map[string]struct{}
}

func newSubscriptionSet(initial []string) *subscriptionSet {
	s := &subscriptionSet{topics: make(map[string]struct{}, len(initial))}
	s.add(initial)
	return s
}

// add inserts topics and returns the ones that were not already present.
func (s *subscriptionSet) add(topics []string) []string {
	var added []string
	for _, t := range topics {
		if t == "" {
			continue
		}
		if _, ok := s.topics[t]; !ok {
			s.topics[t] = struct{}{}
			added = append(added, t)
		}
	}
	return added
}

// remove deletes topics and returns the ones that were actually present.
func (s *subscriptionSet) remove(topics []string) []string {
	var removed []string
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			delete(s.topics, t)
			removed = append(removed, t)
		}
	}
	return removed
}

// all returns the current set, sorted for stable wire frames and logs.
func (s *subscriptionSet) all() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *subscriptionSet) len() int {
	return len(s.topics)
}
