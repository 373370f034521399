package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectID(t *testing.T) {
	valid := []string{"a", "myproject", "proj-1", "a_b-c2", "z" + strings.Repeat("x", 63)}
	for _, id := range valid {
		assert.NoError(t, ValidateProjectID(id), id)
	}

	invalid := []string{
		"",
		"Myproject",       // uppercase start
		"1project",        // digit start
		"-project",        // hyphen start
		"proj.1",          // dot
		"proj 1",          // space
		"pr/../oj",        // traversal
		"z" + strings.Repeat("x", 64), // too long
	}
	for _, id := range invalid {
		assert.Error(t, ValidateProjectID(id), id)
	}
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "proj_myproject_requirements", CollectionName("myproject", MemoryTypeRequirements))
	assert.Equal(t, "proj_x_test_result", CollectionName("x", MemoryTypeTestResult))
}

func TestGraphEligibility(t *testing.T) {
	eligible := []MemoryType{
		MemoryTypeRequirements, MemoryTypeDesign, MemoryTypeArchitecture,
		MemoryTypeComponent, MemoryTypeFunction, MemoryTypeTestResult,
	}
	for _, mt := range eligible {
		assert.True(t, GraphEligible(mt), string(mt))
	}
	ineligible := []MemoryType{
		MemoryTypeCodePattern, MemoryTypeTestHistory, MemoryTypeSession, MemoryTypeUserPreference,
	}
	for _, mt := range ineligible {
		assert.False(t, GraphEligible(mt), string(mt))
	}
	require.Len(t, GraphEligibleTypes(), len(eligible))
}

func TestNodeLabel(t *testing.T) {
	assert.Equal(t, "Requirements", NodeLabel(MemoryTypeRequirements))
	assert.Equal(t, "TestResult", NodeLabel(MemoryTypeTestResult))
	assert.Equal(t, "Function", NodeLabel(MemoryTypeFunction))
}

func TestTimestampRoundTrip(t *testing.T) {
	now := ParseTimestamp(Timestamp(ParseTimestamp("2026-01-02T03:04:05.000000006Z")))
	assert.Equal(t, 2026, now.Year())
	assert.True(t, ParseTimestamp("garbage").IsZero())
}
