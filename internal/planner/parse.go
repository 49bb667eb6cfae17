package planner

import (
	"regexp"
	"strconv"
	"strings"

	"workloop/internal/plan"
)

var (
	// "1. text", "2) text", "Step 3: text", "Step 4 - text"
	numberedLine = regexp.MustCompile(`^\s*(?:\*\*)?(?:[Ss]tep\s+)?(\d+)\s*(?:[.):]|\s-)\s*(?:\*\*)?\s*(.+)$`)

	// "@name(args)" anywhere in the line; args may contain nested parentheses.
	commandPattern = regexp.MustCompile(`@[a-z][a-z0-9-]*\(.*\)`)

	// "[after 1, s2]" and "[replaces s3]" annotations.
	annotationPattern = regexp.MustCompile(`\[(after|replaces)\s+([^\]]*)\]`)

	// "`cmd`" inline code used as a shell action.
	inlineCode = regexp.MustCompile("`([^`]+)`")
)

// ParseOptions controls how [ParseSteps] builds steps.
type ParseOptions struct {
	// IDPrefix is prepended to the list number to form step ids. Defaults to "s".
	IDPrefix string

	// Sequential makes each step without an explicit [after ...] annotation depend
	// on the previous one.
	Sequential bool
}

// IsNone reports whether a planner response declines to remediate.
func IsNone(text string) bool {
	t := strings.ToUpper(strings.Trim(strings.TrimSpace(text), ".*`"))
	return t == "NONE" || t == "NO REMEDIATION"
}

// ParseSteps extracts steps from a numbered list such as a chat model reply.
//
// Each numbered line becomes a step whose description is the line text. The
// action is the first "@name(args)" command in the line, else the first
// backtick-quoted snippet prefixed with "!", else the description itself.
// Annotations refine the step:
//
//	3. Re-run the failing tests @bash-cmd(go test ./...) [after 1, 2] [replaces s4]
//
// Numeric references in [after ...] resolve to ids in the same list; anything
// else is kept as a literal step id. Lines without a number are ignored.
func ParseSteps(text string, opts ParseOptions) []plan.Step {
	prefix := opts.IDPrefix
	if prefix == "" {
		prefix = "s"
	}

	var steps []plan.Step
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		body := strings.TrimSpace(m[2])

		step := plan.Step{
			ID:      prefix + strconv.Itoa(n),
			Ordinal: len(steps) + 1,
			Status:  plan.StepWaiting,
		}
		explicitDeps := false
		for _, a := range annotationPattern.FindAllStringSubmatch(body, -1) {
			refs := splitRefs(a[2])
			switch a[1] {
			case "after":
				explicitDeps = true
				for _, ref := range refs {
					if strings.EqualFold(ref, "none") {
						continue
					}
					if _, err := strconv.Atoi(ref); err == nil {
						ref = prefix + ref
					}
					step.DependsOn = append(step.DependsOn, ref)
				}
			case "replaces":
				if len(refs) > 0 {
					step.Replaces = refs[0]
				}
			}
		}
		body = strings.TrimSpace(annotationPattern.ReplaceAllString(body, ""))
		body = strings.TrimSpace(strings.TrimSuffix(body, "**"))

		step.Description = body
		step.Action = extractAction(body)
		if step.Action == "" {
			continue
		}
		if opts.Sequential && !explicitDeps && len(steps) > 0 {
			step.DependsOn = []string{steps[len(steps)-1].ID}
		}
		steps = append(steps, step)
	}
	return steps
}

func extractAction(body string) string {
	if cmd := commandPattern.FindString(body); cmd != "" {
		return balanced(cmd)
	}
	if m := inlineCode.FindStringSubmatch(body); m != nil {
		return "!" + strings.TrimSpace(m[1])
	}
	return body
}

// balanced trims a greedy "@name(...)" match back to its matching close paren.
func balanced(cmd string) string {
	depth := 0
	for i, r := range cmd {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return cmd[:i+1]
			}
		}
	}
	return cmd
}

func splitRefs(s string) []string {
	var refs []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if f = strings.TrimSpace(f); f != "" {
			refs = append(refs, f)
		}
	}
	return refs
}
