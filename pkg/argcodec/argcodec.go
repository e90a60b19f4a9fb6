// Package argcodec encodes arguments for transit to the worker process.
//
// Two transforms exist and they are deliberately asymmetric. Escape builds a
// quoted command line (backslashes and quotes escaped) for places where the
// invocation is rendered as a single string. EscapeArg and Unescape form the
// argv-level pair: the host doubles backslashes in every argument and the
// worker halves them again.
package argcodec

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	lineEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	argEscaper  = strings.NewReplacer(`\`, `\\`)
)

// Escape renders args as one command-line string. Every argument is wrapped
// in double quotes, with literal backslashes doubled and quotes escaped.
// An empty list yields an empty string.
func Escape(args []string) string {
	var b strings.Builder
	for _, arg := range args {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(lineEscaper.Replace(arg))
		b.WriteByte('"')
	}
	return b.String()
}

// EscapeArg doubles every backslash in arg.
func EscapeArg(arg string) string {
	return argEscaper.Replace(arg)
}

// Unescape replaces every `\\` with `\`, scanning left to right without
// overlap. Quotes are left alone.
func Unescape(arg string) string {
	return strings.ReplaceAll(arg, `\\`, `\`)
}

// Encode escapes each argument for the worker's argv.
func Encode(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = EscapeArg(arg)
	}
	return out
}

// Decode reverses Encode on the worker side.
func Decode(argv []string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = Unescape(arg)
	}
	return out
}

// SplitCommand splits a configured command line into program and arguments
// using shell word-splitting rules. The output of Escape is always accepted.
func SplitCommand(command string) ([]string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to split command %q: %w", command, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return words, nil
}
