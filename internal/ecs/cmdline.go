package ecs

import "strings"

// ParseCommandLine splits a command line into arguments honoring POSIX
// quoting (single quotes literal, double quotes with backslash escapes).
// Malformed input falls back to a whitespace split.
func ParseCommandLine(cmdline string) []string {
	args, ok := splitPOSIX(cmdline)
	if !ok {
		return strings.Fields(cmdline)
	}
	return args
}

func splitPOSIX(s string) ([]string, bool) {
	var args []string
	var cur strings.Builder
	inArg := false

	flush := func() {
		if inArg {
			args = append(args, cur.String())
			cur.Reset()
			inArg = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ' ', '\t', '\n':
			flush()
		case '\'':
			inArg = true
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, false // unterminated single quote
			}
			cur.WriteString(s[i+1 : i+1+end])
			i += end + 1
		case '"':
			inArg = true
			i++
			closed := false
			for ; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					next := s[i+1]
					if next == '"' || next == '\\' || next == '$' || next == '`' {
						cur.WriteByte(next)
						i++
						continue
					}
					cur.WriteByte('\\')
					continue
				}
				if s[i] == '"' {
					closed = true
					break
				}
				cur.WriteByte(s[i])
			}
			if !closed {
				return nil, false // unterminated double quote
			}
		case '\\':
			inArg = true
			if i+1 < len(s) {
				cur.WriteByte(s[i+1])
				i++
			}
		default:
			inArg = true
			cur.WriteByte(c)
		}
	}
	flush()
	return args, true
}
