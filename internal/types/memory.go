package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MemoryType is the category of a stored memory. One vector collection exists
// per (project, type) pair.
type MemoryType string

const (
	MemoryTypeRequirements   MemoryType = "requirements"
	MemoryTypeDesign         MemoryType = "design"
	MemoryTypeArchitecture   MemoryType = "architecture"
	MemoryTypeCodePattern    MemoryType = "code_pattern"
	MemoryTypeComponent      MemoryType = "component"
	MemoryTypeFunction       MemoryType = "function"
	MemoryTypeTestResult     MemoryType = "test_result"
	MemoryTypeTestHistory    MemoryType = "test_history"
	MemoryTypeSession        MemoryType = "session"
	MemoryTypeUserPreference MemoryType = "user_preference"
)

var allMemoryTypes = []MemoryType{
	MemoryTypeRequirements,
	MemoryTypeDesign,
	MemoryTypeArchitecture,
	MemoryTypeCodePattern,
	MemoryTypeComponent,
	MemoryTypeFunction,
	MemoryTypeTestResult,
	MemoryTypeTestHistory,
	MemoryTypeSession,
	MemoryTypeUserPreference,
}

// graphEligibleTypes are the memory types mirrored as graph nodes.
var graphEligibleTypes = map[MemoryType]bool{
	MemoryTypeRequirements: true,
	MemoryTypeDesign:       true,
	MemoryTypeArchitecture: true,
	MemoryTypeComponent:    true,
	MemoryTypeFunction:     true,
	MemoryTypeTestResult:   true,
}

// AllTypes returns every known memory type in a stable order.
func AllTypes() []MemoryType {
	out := make([]MemoryType, len(allMemoryTypes))
	copy(out, allMemoryTypes)
	return out
}

// ValidType reports whether t is one of the known memory types.
func ValidType(t MemoryType) bool {
	for _, known := range allMemoryTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GraphEligible reports whether memories of type t are mirrored into the
// graph store.
func GraphEligible(t MemoryType) bool {
	return graphEligibleTypes[t]
}

// GraphEligibleTypes returns the graph-eligible subset in a stable order.
func GraphEligibleTypes() []MemoryType {
	out := make([]MemoryType, 0, len(graphEligibleTypes))
	for _, t := range allMemoryTypes {
		if graphEligibleTypes[t] {
			out = append(out, t)
		}
	}
	return out
}

// NodeLabel returns the graph label for a memory type, e.g. "test_result" ->
// "TestResult".
func NodeLabel(t MemoryType) string {
	parts := strings.Split(string(t), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}

// Memory is the atomic unit of project knowledge. The vector store is
// authoritative for Content and Vector; graph-eligible memories additionally
// carry a mirrored graph node keyed by ID.
type Memory struct {
	ID        string         `json:"memory_id"`
	Type      MemoryType     `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Vector    []float32      `json:"-"`
	ProjectID string         `json:"project_id"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Deleted   bool           `json:"deleted"`
}

// Timestamp formats t the way memories store timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored memory timestamp. Zero time on failure.
func ParseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

var projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// ValidateProjectID enforces the tenancy boundary: project ids are used as
// collection namespace keys, so anything outside the narrow pattern is
// rejected before touching a store.
func ValidateProjectID(projectID string) error {
	if !projectIDPattern.MatchString(projectID) {
		return fmt.Errorf(
			"invalid project_id %q: must start with a lowercase letter and contain only lowercase letters, digits, underscore or hyphen (max 64 chars)",
			projectID,
		)
	}
	return nil
}

// CollectionName derives the vector collection for a (project, type) pair.
func CollectionName(projectID string, t MemoryType) string {
	return "proj_" + projectID + "_" + string(t)
}

// ExtractedFunction is a function-level sub-unit produced by the code
// indexing engine. It is transient: each one becomes a function-type Memory.
type ExtractedFunction struct {
	Name      string
	Body      string
	StartLine int
	EndLine   int
	Signature string
	IsAsync   bool
	IsMethod  bool
	ClassName string
}
