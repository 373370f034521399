package types

// typePair keys the relationship inference table.
type typePair struct {
	source MemoryType
	target MemoryType
}

// relationshipRules maps (source type, target type) to the relationship label
// created between their graph nodes. Any pair not listed falls back to
// RELATED_TO.
var relationshipRules = map[typePair]string{
	{MemoryTypeArchitecture, MemoryTypeRequirements}: "GUIDES",
	{MemoryTypeRequirements, MemoryTypeArchitecture}: "GUIDED_BY",
	{MemoryTypeDesign, MemoryTypeRequirements}:       "IMPLEMENTS",
	{MemoryTypeRequirements, MemoryTypeDesign}:       "IMPLEMENTED_BY",
	{MemoryTypeDesign, MemoryTypeArchitecture}:       "CONFORMS_TO",
	{MemoryTypeArchitecture, MemoryTypeDesign}:       "REALIZED_BY",
	{MemoryTypeComponent, MemoryTypeDesign}:          "SPECIFIED_BY",
	{MemoryTypeDesign, MemoryTypeComponent}:          "SPECIFIES",
	{MemoryTypeComponent, MemoryTypeComponent}:       "DEPENDS_ON",
	{MemoryTypeFunction, MemoryTypeComponent}:        "BELONGS_TO",
	{MemoryTypeComponent, MemoryTypeFunction}:        "CONTAINS",
	{MemoryTypeFunction, MemoryTypeFunction}:         "CALLS_NEAR",
	{MemoryTypeTestResult, MemoryTypeRequirements}:   "VERIFIES",
	{MemoryTypeRequirements, MemoryTypeTestResult}:   "VERIFIED_BY",
	{MemoryTypeTestResult, MemoryTypeComponent}:      "TESTS",
	{MemoryTypeTestResult, MemoryTypeFunction}:       "TESTS",
}

// DefaultRelationship is used for any (source, target) pair without an
// explicit rule.
const DefaultRelationship = "RELATED_TO"

// InferRelationship returns the relationship label for an edge from a memory
// of sourceType to a memory of targetType.
func InferRelationship(sourceType, targetType MemoryType) string {
	if label, ok := relationshipRules[typePair{sourceType, targetType}]; ok {
		return label
	}
	return DefaultRelationship
}
