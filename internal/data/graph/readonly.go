package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrQueryRejected marks a statement that failed the read-only screening.
type ErrQueryRejected struct {
	Reason string
}

func (e *ErrQueryRejected) Error() string {
	return fmt.Sprintf("graph query rejected: %s", e.Reason)
}

var writeKeywordPattern = regexp.MustCompile(
	`(?i)\b(create|merge|delete|detach|set|remove|drop|foreach)\b|\bload\s+csv\b|\bcall\s*\{`,
)

// ValidateReadOnlyQuery lexically screens a Cypher statement before it is
// passed through to the engine. Only MATCH / OPTIONAL MATCH statements with
// no write keyword are allowed.
//
// This is defense in depth, not a parser: a keyword inside a string literal
// will false-positive, and the authoritative control should be a read-only
// database role on the connection. Both limits are deliberate.
func ValidateReadOnlyQuery(cypher string) error {
	normalized := strings.ToLower(strings.TrimSpace(cypher))
	if normalized == "" {
		return &ErrQueryRejected{Reason: "empty statement"}
	}
	if !strings.HasPrefix(normalized, "match") && !strings.HasPrefix(normalized, "optional match") {
		return &ErrQueryRejected{Reason: "statement must start with MATCH or OPTIONAL MATCH"}
	}
	if loc := writeKeywordPattern.FindString(normalized); loc != "" {
		return &ErrQueryRejected{Reason: fmt.Sprintf("write keyword %q is not allowed", strings.TrimSpace(loc))}
	}
	return nil
}
