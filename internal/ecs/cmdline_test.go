package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "ls -la /tmp", []string{"ls", "-la", "/tmp"}},
		{"single quotes literal", `sh -c 'echo $HOME'`, []string{"sh", "-c", "echo $HOME"}},
		{"double quotes with escape", `echo "a \"quoted\" word"`, []string{"echo", `a "quoted" word`}},
		{"backslash escape outside quotes", `touch file\ name`, []string{"touch", "file name"}},
		{"preserved backslash in double quotes", `grep "C:\Temp"`, []string{"grep", `C:\Temp`}},
		{"empty quoted arg", `cmd '' end`, []string{"cmd", "", "end"}},
		{"tabs and newlines", "a\tb\nc", []string{"a", "b", "c"}},
		{"empty", "", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCommandLine(tc.in))
		})
	}
}

func TestParseCommandLineMalformedFallsBack(t *testing.T) {
	// Unterminated quotes degrade to a whitespace split.
	assert.Equal(t, []string{"sh", "-c", "'unterminated"}, ParseCommandLine("sh -c 'unterminated"))
	assert.Equal(t, []string{`"open`, "arg"}, ParseCommandLine(`"open arg`))
}
