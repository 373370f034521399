package indexing

import (
	"regexp"
	"strings"

	"github.com/osok/project-memory/internal/types"
)

// LanguageExtractor pulls function-level units out of source text. Extraction
// is structural, not a full parse: brace balance for C-like languages,
// indentation for Python. Good enough for embedding, not for refactoring.
type LanguageExtractor interface {
	Languages() []string
	Extract(src string) ([]types.ExtractedFunction, error)
}

var extensionLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".rs":   "rust",
}

// DetectLanguage maps a file extension to a language name, or "" when the
// extension is unknown.
func DetectLanguage(ext string) string {
	return extensionLanguages[strings.ToLower(ext)]
}

func extractorFor(language string) LanguageExtractor {
	switch language {
	case "python":
		return &pythonExtractor{}
	case "go", "javascript", "typescript", "java", "c", "cpp", "csharp", "rust":
		return &braceExtractor{language: language}
	default:
		return nil
	}
}

// --- C-like languages -------------------------------------------------------

var (
	goFuncPattern = regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*\(`)
	// function declarations and generators in js/ts
	jsFuncPattern = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(async\s+)?function\s*\*?\s*([A-Za-z_$]\w*)\s*\(`)
	// const f = async (...) => / const f = x =>
	arrowPattern = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$]\w*)\s*=\s*(async\s+)?(?:\([^)]*\)|[A-Za-z_$]\w*)\s*=>`)
	// methods and plain C-family functions: modifiers + return type + name(args) {
	methodPattern = regexp.MustCompile(`^\s*(?:(?:public|private|protected|internal|static|final|abstract|override|virtual|async|unsafe|pub)\s+)*[\w<>\[\],\s\*&:]*?\b([A-Za-z_]\w*)\s*\([^;{]*\)\s*(?:const\s*)?\{`)
	rustFnPattern = regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(async\s+)?fn\s+([A-Za-z_]\w*)`)
	classPattern  = regexp.MustCompile(`^\s*(?:export\s+)?(?:public\s+|private\s+|internal\s+|abstract\s+|final\s+|sealed\s+|static\s+)*class\s+([A-Za-z_]\w*)`)
)

// reserved words that the method pattern would otherwise mistake for
// function names.
var notFunctionNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "else": true, "do": true, "new": true, "match": true,
}

type braceExtractor struct {
	language string
}

func (e *braceExtractor) Languages() []string { return []string{e.language} }

type classFrame struct {
	name  string
	depth int
}

func (e *braceExtractor) Extract(src string) ([]types.ExtractedFunction, error) {
	lines := strings.Split(src, "\n")
	var out []types.ExtractedFunction
	var classes []classFrame
	depth := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := classPattern.FindStringSubmatch(line); m != nil {
			classes = append(classes, classFrame{name: m[1], depth: depth})
		}

		name, isAsync, ok := e.matchSignature(line)
		if ok && !notFunctionNames[name] {
			className := ""
			if len(classes) > 0 {
				className = classes[len(classes)-1].name
			}
			end := findBraceEnd(lines, i)
			fn := types.ExtractedFunction{
				Name:      name,
				Body:      strings.Join(lines[i:end+1], "\n"),
				StartLine: i + 1,
				EndLine:   end + 1,
				Signature: strings.TrimSpace(line),
				IsAsync:   isAsync,
				IsMethod:  className != "",
				ClassName: className,
			}
			out = append(out, fn)
			// Skip the body so nested closures do not double-report.
			depth += braceDelta(strings.Join(lines[i:end+1], "\n"))
			i = end
			classes = popClasses(classes, depth)
			continue
		}

		depth += braceDelta(line)
		classes = popClasses(classes, depth)
	}
	return out, nil
}

func (e *braceExtractor) matchSignature(line string) (name string, isAsync bool, ok bool) {
	switch e.language {
	case "go":
		if m := goFuncPattern.FindStringSubmatch(line); m != nil {
			return m[1], false, true
		}
	case "javascript", "typescript":
		if m := jsFuncPattern.FindStringSubmatch(line); m != nil {
			return m[2], m[1] != "", true
		}
		if m := arrowPattern.FindStringSubmatch(line); m != nil {
			return m[1], m[2] != "", true
		}
		if m := methodPattern.FindStringSubmatch(line); m != nil {
			return m[1], strings.Contains(line, "async "), true
		}
	case "rust":
		if m := rustFnPattern.FindStringSubmatch(line); m != nil {
			return m[2], m[1] != "", true
		}
	default: // java, c, cpp, csharp
		if m := methodPattern.FindStringSubmatch(line); m != nil {
			return m[1], strings.Contains(line, "async "), true
		}
	}
	return "", false, false
}

// findBraceEnd returns the index of the line where the brace balance opened
// at or after start returns to zero. An expression-bodied arrow function
// (no brace) ends on its own line.
func findBraceEnd(lines []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		// A signature whose opening brace never arrives within a few lines is
		// treated as a one-liner rather than swallowing the rest of the file.
		if !opened && i-start > 3 {
			return start
		}
	}
	if !opened {
		return start
	}
	return len(lines) - 1
}

func braceDelta(s string) int {
	delta := 0
	for _, r := range s {
		switch r {
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	return delta
}

func popClasses(classes []classFrame, depth int) []classFrame {
	for len(classes) > 0 && depth <= classes[len(classes)-1].depth {
		classes = classes[:len(classes)-1]
	}
	return classes
}

// --- Python -----------------------------------------------------------------

var (
	pyDefPattern   = regexp.MustCompile(`^(\s*)(async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	pyClassPattern = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)`)
)

type pythonExtractor struct{}

func (e *pythonExtractor) Languages() []string { return []string{"python"} }

type pyClassFrame struct {
	name   string
	indent int
}

func popPyClasses(classes []pyClassFrame, indent int) []pyClassFrame {
	for len(classes) > 0 && indent <= classes[len(classes)-1].indent {
		classes = classes[:len(classes)-1]
	}
	return classes
}

func (e *pythonExtractor) Extract(src string) ([]types.ExtractedFunction, error) {
	lines := strings.Split(src, "\n")
	var out []types.ExtractedFunction
	var classes []pyClassFrame

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if isBlankOrComment(line) {
			continue
		}
		indent := indentWidth(line)
		classes = popPyClasses(classes, indent)

		if m := pyClassPattern.FindStringSubmatch(line); m != nil {
			classes = append(classes, pyClassFrame{name: m[2], indent: indent})
			continue
		}
		m := pyDefPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[3]
		className := ""
		if len(classes) > 0 && indent > classes[len(classes)-1].indent {
			className = classes[len(classes)-1].name
		}
		// Dunder methods carry no retrievable meaning of their own.
		if className != "" && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
			i = findIndentEnd(lines, i, indent)
			continue
		}
		end := findIndentEnd(lines, i, indent)
		out = append(out, types.ExtractedFunction{
			Name:      name,
			Body:      strings.Join(lines[i:end+1], "\n"),
			StartLine: i + 1,
			EndLine:   end + 1,
			Signature: strings.TrimSpace(line),
			IsAsync:   strings.TrimSpace(m[2]) == "async",
			IsMethod:  className != "",
			ClassName: className,
		})
		i = end
	}
	return out, nil
}

// findIndentEnd returns the index of the last line of the block opened at
// start: the line before the first non-blank, non-comment line whose
// indentation is at or below the block's own.
func findIndentEnd(lines []string, start, indent int) int {
	end := start
	for i := start + 1; i < len(lines); i++ {
		if isBlankOrComment(lines[i]) {
			continue
		}
		if indentWidth(lines[i]) <= indent {
			return end
		}
		end = i
	}
	return end
}

func isBlankOrComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
