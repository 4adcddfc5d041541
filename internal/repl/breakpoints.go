package repl

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/acolita/sdb/internal/engine"
)

// parseBreakpoint reads "file:line", "line" or a function name, each with an
// optional ", condition".
func (l *Loop) parseBreakpoint(arg string) (engine.BreakpointSpec, error) {
	loc, cond, _ := strings.Cut(arg, ",")
	loc = strings.TrimSpace(loc)
	spec := engine.BreakpointSpec{Condition: strings.TrimSpace(cond)}

	if line, err := strconv.Atoi(loc); err == nil {
		cur := l.eng.Location()
		if cur.File == "" {
			return spec, errors.New("no current file")
		}
		spec.File, spec.Line = cur.File, line
		return spec, nil
	}

	if i := strings.LastIndex(loc, ":"); i > 0 {
		if line, err := strconv.Atoi(loc[i+1:]); err == nil {
			file, err := l.resolveFile(loc[:i])
			if err != nil {
				return spec, err
			}
			spec.File, spec.Line = file, line
			return spec, nil
		}
	}

	if loc == "" {
		return spec, errors.New("missing breakpoint location")
	}
	spec.Function = loc
	return spec, nil
}

// resolveFile makes name absolute. Relative names are looked up anywhere
// under the working directory as **/name; the shortest match wins.
func (l *Loop) resolveFile(name string) (string, error) {
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	if l.sources == nil {
		return "", fmt.Errorf("%s: %w", name, engine.ErrNotFound)
	}

	rel := path.Clean(filepath.ToSlash(name))
	matches, err := doublestar.Glob(l.sources, "**/"+rel)
	if err != nil {
		return "", fmt.Errorf("search %s: %w", name, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: %w", name, engine.ErrNotFound)
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) < len(matches[j])
		}
		return matches[i] < matches[j]
	})
	return filepath.Join(l.opts.WorkDir, filepath.FromSlash(matches[0])), nil
}
