package argcodec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kballard/go-shellquote"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "empty list", args: nil, want: ""},
		{name: "single", args: []string{"a"}, want: `"a"`},
		{name: "spaces", args: []string{"a b", "c"}, want: `"a b" "c"`},
		{name: "backslash", args: []string{`C:\tmp\x.tt`}, want: `"C:\\tmp\\x.tt"`},
		{name: "quote", args: []string{`say "hi"`}, want: `"say \"hi\""`},
		{name: "empty argument", args: []string{""}, want: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.args); got != tt.want {
				t.Errorf("Escape() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnescape_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		`\`,
		`\\`,
		`a\b\\c\\\d`,
		`trailing\`,
		`"quoted"`,
		"multi\nline\ttab",
		"héllo wörld ✓",
	}

	for _, s := range inputs {
		if got := Unescape(EscapeArg(s)); got != s {
			t.Errorf("Unescape(EscapeArg(%q)) = %q", s, got)
		}
	}
}

func TestUnescape_OnlyHalvesDoubledBackslashes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `a\b`, want: `a\b`},
		{in: `a\\b`, want: `a\b`},
		{in: `a\\\b`, want: `a\\b`},
		{in: `\"`, want: `\"`},
	}

	for _, tt := range tests {
		if got := Unescape(tt.in); got != tt.want {
			t.Errorf("Unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	args := []string{`/tmp/t.star`, `C:\in put`, `with\\double`, ""}
	if diff := cmp.Diff(args, Decode(Encode(args))); diff != "" {
		t.Errorf("Decode(Encode()) mismatch (-want +got):\n%s", diff)
	}
}

func TestEscape_SplitsBackToArguments(t *testing.T) {
	args := []string{`/a dir/template.star`, `back\slash`, `"quotes"`, "", "new\nline", `$HOME`}

	got, err := shellquote.Split(Escape(args))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if diff := cmp.Diff(args, got); diff != "" {
		t.Errorf("Split(Escape()) mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{name: "single", command: "template-runner", want: []string{"template-runner"}},
		{name: "with args", command: `go run "./cmd/template-runner"`, want: []string{"go", "run", "./cmd/template-runner"}},
		{name: "empty", command: "   ", wantErr: true},
		{name: "unterminated", command: `runner "oops`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if diff := cmp.Diff(tt.want, got); diff != "" {
					t.Errorf("SplitCommand() mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}
