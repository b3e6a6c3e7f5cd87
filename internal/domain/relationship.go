package domain

import "slices"

// SyncMembership reconciles the current members of an association with the
// desired members. remove is invoked for every member of current that is absent
// from desired, then add is invoked for every member of desired that is absent
// from current. Members present on both sides are left untouched.
//
// Both slices are copied before iterating, so add and remove may freely mutate
// the collections they were taken from. Effects run in input order: removals
// in the order of current, additions in the order of desired. Duplicate keys in
// desired are added once.
func SyncMembership[T any, K comparable](current, desired []T, key func(T) K, add, remove func(T)) (added, removed int) {
	currentSnapshot := slices.Clone(current)
	desiredSnapshot := slices.Clone(desired)

	currentKeys := make(map[K]struct{}, len(currentSnapshot))
	for _, item := range currentSnapshot {
		currentKeys[key(item)] = struct{}{}
	}

	desiredKeys := make(map[K]struct{}, len(desiredSnapshot))
	for _, item := range desiredSnapshot {
		desiredKeys[key(item)] = struct{}{}
	}

	for _, item := range currentSnapshot {
		if _, keep := desiredKeys[key(item)]; !keep {
			remove(item)
			removed++
		}
	}

	seen := make(map[K]struct{}, len(desiredSnapshot))
	for _, item := range desiredSnapshot {
		k := key(item)
		if _, exists := currentKeys[k]; exists {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		add(item)
		added++
	}

	return added, removed
}

// keyed is implemented by entities that take part in reciprocal collections.
type keyed interface {
	Key() any
}

// indexOf returns the position of item in items by key, or -1.
func indexOf[T keyed](items []T, item T) int {
	k := item.Key()
	for i, candidate := range items {
		if candidate.Key() == k {
			return i
		}
	}
	return -1
}

// addMember appends item to items unless an equal member is already present.
func addMember[T keyed](items []T, item T) []T {
	if indexOf(items, item) >= 0 {
		return items
	}
	return append(items, item)
}

// removeMember removes item from items if present, preserving order.
func removeMember[T keyed](items []T, item T) []T {
	if i := indexOf(items, item); i >= 0 {
		return slices.Delete(items, i, i+1)
	}
	return items
}
