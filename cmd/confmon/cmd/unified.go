package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/oneconcern/confmon/pkg/core"
	"github.com/sourcegraph/go-diff/diff"
)

// contextLines around changes in unified diffs
const contextLines = 3

const noNewline = "\\ No newline at end of file\n"

// unifiedDiff renders the differences of a file in the unified format
func unifiedDiff(fd core.FileDiff) *diff.FileDiff {
	out := &diff.FileDiff{
		OrigName: "a/" + fd.Path,
		NewName:  "b/" + fd.Path,
		Extended: []string{fmt.Sprintf("diff --confmon a/%s b/%s", fd.Path, fd.Path)},
	}

	switch fd.Status {
	case core.DiffAdded:
		out.OrigName = "/dev/null"
		out.Extended = append(out.Extended, fmt.Sprintf("new file mode %o", os.FileMode(fd.After.Mode)))
	case core.DiffRemoved:
		out.NewName = "/dev/null"
		out.Extended = append(out.Extended, fmt.Sprintf("deleted file mode %o", os.FileMode(fd.Before.Mode)))
	case core.DiffModified:
		if fd.Before.Mode != fd.After.Mode {
			out.Extended = append(out.Extended,
				fmt.Sprintf("old mode %o", os.FileMode(fd.Before.Mode)),
				fmt.Sprintf("new mode %o", os.FileMode(fd.After.Mode)),
			)
		}
		if fd.Before.LinkTarget != fd.After.LinkTarget {
			out.Extended = append(out.Extended, fmt.Sprintf("link %q -> %q", fd.Before.LinkTarget, fd.After.LinkTarget))
		}
	}

	if fd.Binary {
		out.Extended = append(out.Extended, fmt.Sprintf("Binary files %s and %s differ", out.OrigName, out.NewName))
		return out
	}
	out.Hunks = hunks(fd.Lines, contextLines)
	return out
}

// hunks groups an edit script into hunks, keeping some lines of context around changes.
// Changes separated by no more than twice the context share a hunk.
func hunks(ops []core.LineOp, context int) []*diff.Hunk {
	positions := make([]linePos, len(ops)+1)
	for i, op := range ops {
		p := positions[i]
		switch op.Op {
		case core.Retain:
			p.orig++
			p.new++
		case core.Delete:
			p.orig++
		case core.Insert:
			p.new++
		}
		positions[i+1] = p
	}

	var result []*diff.Hunk
	for i := 0; i < len(ops); {
		if ops[i].Op == core.Retain {
			i++
			continue
		}

		end := i
		for end < len(ops) {
			if ops[end].Op != core.Retain {
				end++
				continue
			}
			k := end
			for k < len(ops) && ops[k].Op == core.Retain {
				k++
			}
			if k == len(ops) || k-end > 2*context {
				break
			}
			end = k
		}

		start := max(0, i-context)
		stop := min(len(ops), end+context)
		result = append(result, hunk(ops[start:stop], positions[start], positions[stop]))
		i = stop
	}
	return result
}

// linePos counts the lines of both sides consumed by an edit script
type linePos struct {
	orig, new int32
}

func hunk(ops []core.LineOp, from, to linePos) *diff.Hunk {
	h := &diff.Hunk{
		OrigStartLine: from.orig,
		OrigLines:     to.orig - from.orig,
		NewStartLine:  from.new,
		NewLines:      to.new - from.new,
	}
	if h.OrigLines > 0 {
		h.OrigStartLine++
	}
	if h.NewLines > 0 {
		h.NewStartLine++
	}

	var body bytes.Buffer
	for _, op := range ops {
		body.WriteString(op.Op.String())
		body.WriteString(op.Line)
		if !strings.HasSuffix(op.Line, "\n") {
			body.WriteString("\n")
			body.WriteString(noNewline)
		}
	}
	h.Body = body.Bytes()
	return h
}

var (
	headerColor = color.New(color.Bold)
	hunkColor   = color.New(color.FgCyan)
	addColor    = color.New(color.FgGreen)
	deleteColor = color.New(color.FgRed)
)

// printUnified writes unified diffs, colorized unless colors are disabled
func printUnified(files []*diff.FileDiff) error {
	out, err := diff.PrintMultiFileDiff(files)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), len(out)+1)
	for scanner.Scan() {
		outLogger.Println(colorize(scanner.Text()))
	}
	return scanner.Err()
}

func colorize(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "diff "):
		return headerColor.Sprint(line)
	case strings.HasPrefix(line, "@@"):
		return hunkColor.Sprint(line)
	case strings.HasPrefix(line, "+"):
		return addColor.Sprint(line)
	case strings.HasPrefix(line, "-"):
		return deleteColor.Sprint(line)
	default:
		return line
	}
}
