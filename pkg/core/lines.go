package core

import (
	"bytes"
)

// defaultMaxCells bounds the longest-common-subsequence table of a line diff
const defaultMaxCells = 4 << 20

const (
	// Retain a line present on both sides
	Retain EditOp = iota
	// Insert a line from the second side
	Insert
	// Delete a line from the first side
	Delete
)

// EditOp is an operation of a line edit script
type EditOp uint8

func (op EditOp) String() string {
	return [...]string{" ", "+", "-"}[op]
}

// MarshalText renders an edit operation as text
func (op EditOp) MarshalText() ([]byte, error) {
	return []byte([...]string{"retain", "insert", "delete"}[op]), nil
}

// LineOp applies an edit operation to a line. Lines keep their terminating newline, if any.
type LineOp struct {
	Op   EditOp `json:"op" yaml:"op"`
	Line string `json:"line" yaml:"line"`
}

// splitLines splits a payload after each newline
func splitLines(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	chunks := bytes.SplitAfter(payload, []byte{'\n'})
	if len(chunks[len(chunks)-1]) == 0 {
		chunks = chunks[:len(chunks)-1]
	}
	lines := make([]string, len(chunks))
	for i, chunk := range chunks {
		lines[i] = string(chunk)
	}
	return lines
}

// LineDiff computes an edit script turning a into b.
//
// The script is derived from a longest common subsequence, after trimming the common prefix and suffix.
// When the remaining edit table exceeds maxCells, the middle section is replaced wholesale.
// On ties, deletions come before insertions.
func LineDiff(a, b []string, maxCells int) []LineOp {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ops := make([]LineOp, 0, len(a)+len(b)-prefix-suffix)
	for _, line := range a[:prefix] {
		ops = append(ops, LineOp{Op: Retain, Line: line})
	}
	ops = append(ops, lcsScript(a[prefix:len(a)-suffix], b[prefix:len(b)-suffix], maxCells)...)
	for _, line := range a[len(a)-suffix:] {
		ops = append(ops, LineOp{Op: Retain, Line: line})
	}
	return ops
}

func lcsScript(a, b []string, maxCells int) []LineOp {
	n, m := len(a), len(b)
	ops := make([]LineOp, 0, n+m)
	deleteAll := func(from int) {
		for _, line := range a[from:] {
			ops = append(ops, LineOp{Op: Delete, Line: line})
		}
	}
	insertAll := func(from int) {
		for _, line := range b[from:] {
			ops = append(ops, LineOp{Op: Insert, Line: line})
		}
	}

	if n == 0 || m == 0 || (n+1)*(m+1) > maxCells {
		deleteAll(0)
		insertAll(0)
		return ops
	}

	// table[i*(m+1)+j] is the length of the LCS of a[i:] and b[j:]
	width := m + 1
	table := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			case table[(i+1)*width+j] >= table[i*width+j+1]:
				table[i*width+j] = table[(i+1)*width+j]
			default:
				table[i*width+j] = table[i*width+j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, LineOp{Op: Retain, Line: a[i]})
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			ops = append(ops, LineOp{Op: Delete, Line: a[i]})
			i++
		default:
			ops = append(ops, LineOp{Op: Insert, Line: b[j]})
			j++
		}
	}
	deleteAll(i)
	insertAll(j)
	return ops
}
