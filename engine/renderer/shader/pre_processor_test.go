package shader

import (
	"strings"
	"testing"
)

func TestProcessKeepsUnguardedSource(t *testing.T) {
	src := "fn main() {}\n"
	out, err := Process(src, nil)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out != src {
		t.Fatalf("expected source unchanged, got %q", out)
	}
}

func TestProcessIfdef(t *testing.T) {
	src := strings.Join([]string{
		"//#ifdef MSAA",
		"var msaa_line: u32;",
		"//#else",
		"var plain_line: u32;",
		"//#endif",
	}, "\n")

	out, err := Process(src, map[string]bool{"MSAA": true})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.Contains(out, "msaa_line") || strings.Contains(out, "plain_line") {
		t.Fatalf("expected MSAA branch only, got %q", out)
	}

	out, err = Process(src, nil)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if strings.Contains(out, "msaa_line") || !strings.Contains(out, "plain_line") {
		t.Fatalf("expected else branch only, got %q", out)
	}
}

func TestProcessIfndef(t *testing.T) {
	src := strings.Join([]string{
		"//#ifndef MSAA",
		"var plain_line: u32;",
		"//#endif",
	}, "\n")

	out, err := Process(src, map[string]bool{"MSAA": true})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if strings.Contains(out, "plain_line") {
		t.Fatalf("expected block stripped, got %q", out)
	}
}

func TestProcessNestedBlocks(t *testing.T) {
	src := strings.Join([]string{
		"//#ifdef OUTER",
		"outer;",
		"//#ifdef INNER",
		"inner;",
		"//#endif",
		"//#endif",
	}, "\n")

	out, err := Process(src, map[string]bool{"OUTER": true})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.Contains(out, "outer;") || strings.Contains(out, "inner;") {
		t.Fatalf("expected outer only, got %q", out)
	}
}

func TestProcessUnbalancedDirectives(t *testing.T) {
	if _, err := Process("//#ifdef MSAA\n", nil); err == nil {
		t.Fatal("expected error for unterminated block")
	}
	if _, err := Process("//#endif\n", nil); err == nil {
		t.Fatal("expected error for stray endif")
	}
	if _, err := Process("//#ifdef MSAA\n//#else\n//#else\n//#endif\n", nil); err == nil {
		t.Fatal("expected error for duplicate else")
	}
}
