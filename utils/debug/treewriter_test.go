package debug

import (
	"errors"
	"testing"
)

func TestTreeWriter(t *testing.T) {
	tw := NewTreeWriter()
	tw.Line(0, "bookmark %s", "bm-1")
	tw.Field(1, "status", "ok")
	tw.Field(1, "top", 1600)
	tw.TextBlock(1, "text", "line\nnext")
	tw.TextBlock(1, "annotation", "")
	tw.Line(1, "location")
	tw.Field(2, "error", errors.New("broken"))

	want := `bookmark bm-1
  status: ok
  top: 1600
  text: "line\nnext"
  location
    error: broken
`
	if got := tw.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}

func TestTreeWriter_Empty(t *testing.T) {
	if got := NewTreeWriter().String(); got != "" {
		t.Errorf("String() = %q, want empty", got)
	}
}
