// internal/backend/registry_test.go
package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(name string, types ...TaskType) *Simulated {
	return NewSimulated(SimulatedConfig{
		Name:       name,
		Capability: Capability{TaskTypes: types},
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := newTestBackend("a", TaskClassification)

	r.Register("a", a)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_OverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register("a", newTestBackend("a"))
	r.Register("b", newTestBackend("b"))

	replacement := newTestBackend("a2")
	r.Register("a", replacement)

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	got, _ := r.Get("a")
	assert.Same(t, replacement, got)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register("a", newTestBackend("a"))
	r.Register("b", newTestBackend("b"))
	r.Register("c", newTestBackend("c"))

	r.Unregister("b")
	r.Unregister("does-not-exist")

	assert.Equal(t, []string{"a", "c"}, r.IDs())
	entries := r.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestRange_Overlaps(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Range
		expected bool
	}{
		{"inside", Range{Min: 100, Max: 500}, Range{Min: 200, Max: 300}, true},
		{"disjoint", Range{Min: 100, Max: 200}, Range{Min: 300, Max: 400}, false},
		{"touching", Range{Min: 100, Max: 200}, Range{Min: 200, Max: 400}, true},
		{"unbounded", Range{Min: 100}, Range{Min: 5000, Max: 6000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.expected, tt.b.Overlaps(tt.a))
		})
	}
}

func TestResourceRequirements_Compatible(t *testing.T) {
	task := ResourceRequirements{Memory: &Range{Min: 100, Max: 300, Optimal: 250}}
	fits := ResourceRequirements{Memory: &Range{Min: 200, Max: 500}}
	tooBig := ResourceRequirements{Memory: &Range{Min: 400, Max: 800}}
	cpuOnly := ResourceRequirements{CPU: &Range{Min: 1, Max: 4}}

	assert.True(t, task.Compatible(fits))
	assert.False(t, task.Compatible(tooBig))
	assert.True(t, task.Compatible(cpuOnly))
}

func TestCapability(t *testing.T) {
	c := Capability{
		TaskTypes:    []TaskType{TaskClassification},
		InputFormats: []DataFormat{FormatImage},
		Features:     []string{FeatureGPU},
	}

	assert.True(t, c.Supports(TaskClassification))
	assert.False(t, c.Supports(TaskOCR))
	assert.True(t, c.AcceptsInput(FormatImage))
	assert.False(t, c.AcceptsInput(FormatText))
	assert.True(t, c.HasFeature(FeatureGPU))
	assert.True(t, Capability{}.AcceptsInput(FormatAudio))
}
