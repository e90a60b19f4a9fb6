package diagnostic

import (
	"testing"
)

func TestNew_ClampsPositions(t *testing.T) {
	tests := []struct {
		name       string
		line       int
		column     int
		wantLine   int
		wantColumn int
	}{
		{name: "already 1-based", line: 5, column: 10, wantLine: 5, wantColumn: 10},
		{name: "zero", line: 0, column: 0, wantLine: 1, wantColumn: 1},
		{name: "negative", line: -3, column: -1, wantLine: 1, wantColumn: 1},
		{name: "mixed", line: 0, column: 4, wantLine: 1, wantColumn: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(SeverityError, "msg", tt.line, tt.column)
			if d.Line != tt.wantLine || d.Column != tt.wantColumn {
				t.Errorf("New() position = %d:%d, want %d:%d", d.Line, d.Column, tt.wantLine, tt.wantColumn)
			}
		})
	}
}

func TestFromZeroBased(t *testing.T) {
	for line := 0; line < 4; line++ {
		for col := 0; col < 4; col++ {
			d := FromZeroBased(SeverityWarning, "w", line, col)
			if d.Line != line+1 || d.Column != col+1 {
				t.Errorf("FromZeroBased(%d, %d) = %d:%d", line, col, d.Line, d.Column)
			}
			if d.Line < 1 || d.Column < 1 {
				t.Errorf("FromZeroBased(%d, %d) produced a position below 1", line, col)
			}
		}
	}
}

func TestFromOneBased_UnknownPosition(t *testing.T) {
	d := FromOneBased(SeverityError, "e", 0, 0)
	if d.Line != 1 || d.Column != 1 {
		t.Errorf("FromOneBased(0, 0) = %d:%d, want 1:1", d.Line, d.Column)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		d    Diagnostic
		want string
	}{
		{
			name: "warning",
			d:    Warningf(3, 7, "unused %s", "x"),
			want: "Warning on line 3, column 7:\nunused x\n\n",
		},
		{
			name: "error",
			d:    Errorf(1, 2, "boom"),
			want: "Error on line 1, column 2:\nboom\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasErrorsAndCount(t *testing.T) {
	diags := []Diagnostic{
		Warningf(1, 1, "a"),
		Warningf(2, 1, "b"),
	}
	if HasErrors(diags) {
		t.Error("HasErrors() = true for warnings only")
	}

	diags = append(diags, Opaque("c"))
	if !HasErrors(diags) {
		t.Error("HasErrors() = false with an error present")
	}

	w, e := Count(diags)
	if w != 2 || e != 1 {
		t.Errorf("Count() = (%d, %d), want (2, 1)", w, e)
	}

	if HasErrors(nil) {
		t.Error("HasErrors(nil) = true")
	}
}

func TestFormat_PreservesOrder(t *testing.T) {
	diags := []Diagnostic{Errorf(9, 1, "second"), Warningf(1, 1, "first")}
	want := diags[0].String() + diags[1].String()
	if got := Format(diags); got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}
