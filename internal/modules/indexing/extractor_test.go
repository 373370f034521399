package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage(".go"))
	assert.Equal(t, "python", DetectLanguage(".py"))
	assert.Equal(t, "typescript", DetectLanguage(".tsx"))
	assert.Equal(t, "javascript", DetectLanguage(".JS"))
	assert.Equal(t, "", DetectLanguage(".md"))
	assert.Equal(t, "", DetectLanguage(""))
}

func TestGoExtraction(t *testing.T) {
	src := `package demo

import "fmt"

func Greet(name string) string {
	if name == "" {
		name = "world"
	}
	return fmt.Sprintf("hello %s", name)
}

func (s *Server) Start() error {
	return s.listen()
}
`
	fns, err := extractorFor("go").Extract(src)
	require.NoError(t, err)
	require.Len(t, fns, 2)

	assert.Equal(t, "Greet", fns[0].Name)
	assert.Equal(t, 5, fns[0].StartLine)
	assert.Equal(t, 10, fns[0].EndLine)
	assert.Contains(t, fns[0].Body, `return fmt.Sprintf`)

	assert.Equal(t, "Start", fns[1].Name)
	assert.Contains(t, fns[1].Signature, "func (s *Server) Start()")
}

func TestJavaScriptExtraction(t *testing.T) {
	src := `export function parse(input) {
  return JSON.parse(input);
}

const fetchUser = async (id) => {
  const res = await fetch('/users/' + id);
  return res.json();
};

class Store {
  save(record) {
    this.records.push(record);
  }
}
`
	fns, err := extractorFor("javascript").Extract(src)
	require.NoError(t, err)
	require.Len(t, fns, 3)

	assert.Equal(t, "parse", fns[0].Name)
	assert.False(t, fns[0].IsAsync)

	assert.Equal(t, "fetchUser", fns[1].Name)
	assert.True(t, fns[1].IsAsync)

	assert.Equal(t, "save", fns[2].Name)
	assert.True(t, fns[2].IsMethod)
	assert.Equal(t, "Store", fns[2].ClassName)
}

func TestPythonExtraction(t *testing.T) {
	src := `import os

def load_config(path):
    # reads the config
    with open(path) as f:
        return f.read()

class Repo:
    def __init__(self, root):
        self.root = root

    def find(self, name):
        for f in os.listdir(self.root):
            if name in f:
                return f
        return None

    async def sync(self):
        await self._pull()

def main():
    print(load_config("cfg"))
`
	fns, err := extractorFor("python").Extract(src)
	require.NoError(t, err)
	require.Len(t, fns, 4)

	assert.Equal(t, "load_config", fns[0].Name)
	assert.False(t, fns[0].IsMethod)
	assert.Equal(t, 3, fns[0].StartLine)
	assert.Equal(t, 6, fns[0].EndLine)

	// __init__ is excluded; find and sync are attributed to the class.
	assert.Equal(t, "find", fns[1].Name)
	assert.True(t, fns[1].IsMethod)
	assert.Equal(t, "Repo", fns[1].ClassName)

	assert.Equal(t, "sync", fns[2].Name)
	assert.True(t, fns[2].IsAsync)
	assert.Equal(t, "Repo", fns[2].ClassName)

	assert.Equal(t, "main", fns[3].Name)
	assert.False(t, fns[3].IsMethod)
}

func TestPythonBlankLinesDoNotEndBlocks(t *testing.T) {
	src := `def outer():
    a = 1

    # a comment between statements

    return a

def after():
    pass
`
	fns, err := extractorFor("python").Extract(src)
	require.NoError(t, err)
	require.Len(t, fns, 2)
	assert.Contains(t, fns[0].Body, "return a")
	assert.Equal(t, "after", fns[1].Name)
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("main.go", []string{"*.go"}))
	assert.False(t, matchesAny("main.py", []string{"*.go"}))
	assert.True(t, matchesAny("util_test.go", []string{"_test"}))
	assert.True(t, matchesAny("node_modules", []string{"node_modules"}))
	assert.False(t, matchesAny("main.go", nil))
}
