package qdrant

// MatchFilter builds a conjunctive equality filter over payload fields.
// Dotted keys reach into nested payload objects (e.g. "metadata.file_path").
func MatchFilter(conditions map[string]any) map[string]any {
	if len(conditions) == 0 {
		return nil
	}
	must := make([]any, 0, len(conditions))
	for key, value := range conditions {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return map[string]any{"must": must}
}

// MatchFilterExcluding builds a conjunctive equality filter with additional
// must_not equality conditions.
func MatchFilterExcluding(conditions, exclusions map[string]any) map[string]any {
	out := MatchFilter(conditions)
	if len(exclusions) == 0 {
		return out
	}
	if out == nil {
		out = map[string]any{}
	}
	mustNot := make([]any, 0, len(exclusions))
	for key, value := range exclusions {
		mustNot = append(mustNot, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	out["must_not"] = mustNot
	return out
}
