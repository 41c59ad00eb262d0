package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrEmptyPatch is returned for a patch with no file changes.
var ErrEmptyPatch = errors.New("patch contains no file changes")

var fileHeaderRe = regexp.MustCompile(`(?m)^=== FILE: (.+?) ===[ \t]*$`)

// change is the computed result for one file. A nil content deletes it.
type change struct {
	rel     string
	abs     string
	content *string
}

// Apply applies a patch to the artifact and returns the changed paths.
// Two formats are accepted: a unified diff, or file blocks of the form
// "=== FILE: path ===" followed by the full new content. Every change is
// computed before anything is written, so a patch that does not apply
// leaves the artifact untouched.
func (w *Workspace) Apply(ctx context.Context, patch string) ([]string, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, ErrEmptyPatch
	}

	var changes []change
	var err error
	if fileHeaderRe.MatchString(patch) {
		changes, err = w.fileBlocks(patch)
	} else {
		changes, err = w.unifiedDiff(patch)
	}
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, ErrEmptyPatch
	}

	var changed []string
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		if c.content == nil {
			if err := os.Remove(c.abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return changed, fmt.Errorf("delete %s: %w", c.rel, err)
			}
		} else {
			mode := fs.FileMode(0o644)
			if info, err := os.Stat(c.abs); err == nil {
				mode = info.Mode().Perm()
			}
			w.markWritten(c.rel)
			if err := writeDurable(c.abs, []byte(*c.content), mode); err != nil {
				return changed, fmt.Errorf("write %s: %w", c.rel, err)
			}
		}
		changed = append(changed, c.rel)
	}
	sort.Strings(changed)
	w.logger.Debug("patch applied", "files", changed)
	return changed, nil
}

func (w *Workspace) fileBlocks(patch string) ([]change, error) {
	locs := fileHeaderRe.FindAllStringSubmatchIndex(patch, -1)
	changes := make([]change, 0, len(locs))
	for i, loc := range locs {
		rel, abs, err := w.resolve(patch[loc[2]:loc[3]])
		if err != nil {
			return nil, err
		}
		end := len(patch)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimPrefix(patch[loc[1]:end], "\n")
		body = strings.TrimRight(body, "\n") + "\n"
		changes = append(changes, change{rel: rel, abs: abs, content: &body})
	}
	return changes, nil
}

func (w *Workspace) unifiedDiff(patch string) ([]change, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse unified diff: %w", err)
	}

	var changes []change
	for _, fd := range fileDiffs {
		if fd.NewName == "/dev/null" {
			rel, abs, err := w.resolve(stripDiffPrefix(fd.OrigName))
			if err != nil {
				return nil, err
			}
			changes = append(changes, change{rel: rel, abs: abs})
			continue
		}

		rel, abs, err := w.resolve(stripDiffPrefix(fd.NewName))
		if err != nil {
			return nil, err
		}
		var original string
		if fd.OrigName != "/dev/null" {
			_, origAbs, err := w.resolve(stripDiffPrefix(fd.OrigName))
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(origAbs)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			original = string(data)
		}

		updated, err := applyHunks(original, fd.Hunks)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		changes = append(changes, change{rel: rel, abs: abs, content: &updated})
	}
	return changes, nil
}

func stripDiffPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// applyHunks applies hunks in order, verifying context and removed lines.
// A hunk whose line numbers are off is placed at the nearest position where
// its original lines match.
func applyHunks(original string, hunks []*diff.Hunk) (string, error) {
	lines, trailingNewline := splitLines(original)
	if original == "" {
		trailingNewline = true
	}

	out := make([]string, 0, len(lines))
	idx := 0
	for hi, h := range hunks {
		body := hunkLines(h.Body)
		var orig []string
		for _, l := range body {
			if l.op != '+' {
				orig = append(orig, l.text)
			}
		}

		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			start = int(h.OrigStartLine)
		}
		pos, ok := locate(lines, orig, idx, start)
		if !ok {
			return "", fmt.Errorf("hunk %d does not apply at line %d", hi+1, h.OrigStartLine)
		}

		out = append(out, lines[idx:pos]...)
		idx = pos
		for _, l := range body {
			switch l.op {
			case '+':
				out = append(out, l.text)
			case '-':
				idx++
			default:
				out = append(out, lines[idx])
				idx++
			}
		}
	}
	out = append(out, lines[idx:]...)

	result := strings.Join(out, "\n")
	if trailingNewline && len(out) > 0 {
		result += "\n"
	}
	return result, nil
}

type hunkLine struct {
	op   byte
	text string
}

func hunkLines(body []byte) []hunkLine {
	raw := strings.Split(string(body), "\n")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	out := make([]hunkLine, 0, len(raw))
	for _, l := range raw {
		switch {
		case l == "":
			out = append(out, hunkLine{op: ' '})
		case l[0] == '\\':
			// "\ No newline at end of file"
		case l[0] == '+' || l[0] == '-' || l[0] == ' ':
			out = append(out, hunkLine{op: l[0], text: l[1:]})
		default:
			out = append(out, hunkLine{op: ' ', text: l})
		}
	}
	return out
}

// locate finds where want occurs in lines at or after min, preferring the
// position closest to hint.
func locate(lines, want []string, min, hint int) (int, bool) {
	if hint < min {
		hint = min
	}
	best, found := 0, false
	for pos := min; pos+len(want) <= len(lines); pos++ {
		if !equalAt(lines, want, pos) {
			continue
		}
		if !found || absInt(pos-hint) < absInt(best-hint) {
			best, found = pos, true
		}
	}
	if !found && len(want) == 0 && hint <= len(lines) {
		return hint, true
	}
	return best, found
}

func equalAt(lines, want []string, pos int) bool {
	for i, w := range want {
		if lines[pos+i] != w {
			return false
		}
	}
	return true
}

func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(s, "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n"), trailing
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
