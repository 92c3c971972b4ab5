package shader

import (
	"fmt"
	"strings"
)

const (
	ifdefDirective  = "//#ifdef"
	ifndefDirective = "//#ifndef"
	elseDirective   = "//#else"
	endifDirective  = "//#endif"
)

// Process filters a WGSL source string through the conditional compilation directives
// //#ifdef, //#ifndef, //#else and //#endif. Blocks guarded by a define that is not
// enabled are stripped from the output, the directive lines themselves are always
// removed. Blocks may nest.
//
// Parameters:
//   - source: the raw WGSL source
//   - defines: the set of enabled define names
//
// Returns:
//   - string: the processed source with inactive blocks removed
//   - error: an error if the directives are malformed or unbalanced
func Process(source string, defines map[string]bool) (string, error) {
	type frame struct {
		active    bool
		parentOn  bool
		elseTaken bool
	}

	var out strings.Builder
	var stack []frame

	emitting := func() bool {
		for _, f := range stack {
			if !f.active || !f.parentOn {
				return false
			}
		}
		return true
	}

	lines := strings.Split(source, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, ifdefDirective):
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, ifdefDirective))
			if name == "" {
				return "", fmt.Errorf("line %d: %s missing define name", i+1, ifdefDirective)
			}
			stack = append(stack, frame{active: defines[name], parentOn: emitting()})
		case strings.HasPrefix(trimmed, ifndefDirective):
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, ifndefDirective))
			if name == "" {
				return "", fmt.Errorf("line %d: %s missing define name", i+1, ifndefDirective)
			}
			stack = append(stack, frame{active: !defines[name], parentOn: emitting()})
		case strings.HasPrefix(trimmed, elseDirective):
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: %s without matching %s", i+1, elseDirective, ifdefDirective)
			}
			top := &stack[len(stack)-1]
			if top.elseTaken {
				return "", fmt.Errorf("line %d: duplicate %s", i+1, elseDirective)
			}
			top.active = !top.active
			top.elseTaken = true
		case strings.HasPrefix(trimmed, endifDirective):
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: %s without matching %s", i+1, endifDirective, ifdefDirective)
			}
			stack = stack[:len(stack)-1]
		default:
			if emitting() {
				out.WriteString(line)
				out.WriteString("\n")
			}
		}
	}
	if len(stack) != 0 {
		return "", fmt.Errorf("unterminated %s block", ifdefDirective)
	}
	return out.String(), nil
}
