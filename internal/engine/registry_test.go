package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	id, err := r.Register(&TestCase{ID: "db-connect", Name: "DB connect"})
	require.NoError(t, err)
	assert.Equal(t, "db-connect", id)

	tc, err := r.Get("db-connect")
	require.NoError(t, err)
	assert.Equal(t, "DB connect", tc.Name)
	assert.Equal(t, KindStandard, tc.Kind, "kind defaults to standard")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(&TestCase{ID: "dup"})
	require.NoError(t, err)

	_, err = r.Register(&TestCase{ID: "dup"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTest)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejectsInvalidCases(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(nil)
	assert.Error(t, err)

	_, err = r.Register(&TestCase{})
	assert.Error(t, err)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrTestNotFound)
}

func TestRegistryIDsKeepInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Register(&TestCase{ID: id})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, r.IDs())
}

func TestHasTag(t *testing.T) {
	tests := []struct {
		name     string
		caseTags []string
		filter   []string
		expected bool
	}{
		{"empty filter matches", []string{"smoke"}, nil, true},
		{"intersecting tags match", []string{"smoke", "fast"}, []string{"fast"}, true},
		{"disjoint tags do not match", []string{"smoke"}, []string{"slow"}, false},
		{"untagged case with filter", nil, []string{"smoke"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &TestCase{ID: "x", Tags: tt.caseTags}
			assert.Equal(t, tt.expected, tc.HasTag(tt.filter))
		})
	}
}
