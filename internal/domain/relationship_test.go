package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncMembership(t *testing.T) {
	identity := func(s string) string { return s }

	tests := []struct {
		name        string
		current     []string
		desired     []string
		wantAdded   []string
		wantRemoved []string
	}{
		{"both empty", nil, nil, nil, nil},
		{"all new", nil, []string{"a", "b"}, []string{"a", "b"}, nil},
		{"all removed", []string{"a", "b"}, nil, nil, []string{"a", "b"}},
		{"identical", []string{"a", "b"}, []string{"b", "a"}, nil, nil},
		{"partial overlap", []string{"a", "b"}, []string{"b", "c"}, []string{"c"}, []string{"a"}},
		{"duplicate desired", nil, []string{"a", "a"}, []string{"a"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var added, removed []string
			nAdded, nRemoved := SyncMembership(tt.current, tt.desired, identity,
				func(s string) { added = append(added, s) },
				func(s string) { removed = append(removed, s) },
			)
			require.Equal(t, tt.wantAdded, added)
			require.Equal(t, tt.wantRemoved, removed)
			require.Equal(t, len(tt.wantAdded), nAdded)
			require.Equal(t, len(tt.wantRemoved), nRemoved)
		})
	}
}

func TestSyncMembership_RemovesBeforeAdding(t *testing.T) {
	var calls []string
	SyncMembership([]string{"old"}, []string{"new"}, func(s string) string { return s },
		func(s string) { calls = append(calls, "add:"+s) },
		func(s string) { calls = append(calls, "remove:"+s) },
	)
	require.Equal(t, []string{"remove:old", "add:new"}, calls)
}

func TestSyncMembership_CallbacksMayMutateSource(t *testing.T) {
	current := []string{"a", "b", "c"}
	var removed []string
	SyncMembership(current, nil, func(s string) string { return s },
		func(string) {},
		func(s string) {
			removed = append(removed, s)
			current = current[1:]
		},
	)
	require.Equal(t, []string{"a", "b", "c"}, removed)
}
