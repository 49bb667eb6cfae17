package invoker

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rohanthewiz/serr"
)

// builtinPattern matches "@name(args)" with the arguments spanning lines.
var builtinPattern = regexp.MustCompile(`(?s)^@([a-z][a-z0-9-]*)\((.*)\)\s*$`)

// Builtin is a parsed "@name(args)" action.
type Builtin struct {
	Name string
	Args string
}

// ParseBuiltin recognises the "@name(args)" form. The second return value is
// false for anything else.
func ParseBuiltin(action string) (Builtin, bool) {
	m := builtinPattern.FindStringSubmatch(strings.TrimSpace(action))
	if m == nil {
		return Builtin{}, false
	}
	return Builtin{Name: m[1], Args: strings.TrimSpace(m[2])}, true
}

// runBuiltin executes one of the built-in file actions relative to workDir.
//
//	@read-file(path)
//	@write-file(path, content)
//	@list-files(pattern)
//	@bash-cmd(command)
func (s *Shell) runBuiltin(ctx context.Context, b Builtin) (string, error) {
	switch b.Name {
	case "read-file":
		if b.Args == "" {
			return "", NewPermanent(serr.New("read-file needs a path"))
		}
		data, err := os.ReadFile(s.resolve(b.Args))
		if err != nil {
			return "", NewPermanent(serr.Wrap(err, "read-file failed"))
		}
		return string(data), nil

	case "write-file":
		path, content, ok := strings.Cut(b.Args, ",")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return "", NewPermanent(serr.New("write-file needs a path and content"))
		}
		content = strings.TrimPrefix(content, " ")
		full := s.resolve(path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", NewPermanent(serr.Wrap(err, "write-file could not create directory"))
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return "", NewPermanent(serr.Wrap(err, "write-file failed"))
		}
		return "wrote " + path, nil

	case "list-files":
		pattern := b.Args
		if pattern == "" {
			pattern = "*"
		}
		matches, err := filepath.Glob(s.resolve(pattern))
		if err != nil {
			return "", NewPermanent(serr.Wrap(err, "list-files: bad pattern"))
		}
		rel := make([]string, 0, len(matches))
		for _, m := range matches {
			if r, err := filepath.Rel(s.workDir(), m); err == nil {
				m = r
			}
			rel = append(rel, m)
		}
		sort.Strings(rel)
		return strings.Join(rel, "\n"), nil

	case "bash-cmd":
		if b.Args == "" {
			return "", NewPermanent(serr.New("bash-cmd needs a command"))
		}
		return s.runCommand(ctx, b.Args)
	}
	return "", NewPermanent(serr.New("unknown built-in action @" + b.Name))
}

func (s *Shell) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.workDir(), path)
}

func (s *Shell) workDir() string {
	if s.WorkDir != "" {
		return s.WorkDir
	}
	return "."
}
