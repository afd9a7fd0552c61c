package agents

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffLineType classifies a line in a hunk.
type DiffLineType string

const (
	LineContext  DiffLineType = "Context"
	LineAdded    DiffLineType = "Added"
	LineRemoved  DiffLineType = "Removed"
	LineModified DiffLineType = "Modified"
)

// AnnotationType is the display level of a line annotation.
type AnnotationType string

const (
	AnnotationError      AnnotationType = "Error"
	AnnotationWarning    AnnotationType = "Warning"
	AnnotationInfo       AnnotationType = "Info"
	AnnotationSuggestion AnnotationType = "Suggestion"
)

// DiffLine is one line of a hunk. Line numbers are 1-based; zero means absent.
type DiffLine struct {
	LineType      DiffLineType `json:"line_type"`
	Content       string       `json:"content"`
	OldLineNumber int          `json:"old_line_number,omitempty"`
	NewLineNumber int          `json:"new_line_number,omitempty"`
}

// LineAnnotation ties a finding to a line of the new content.
type LineAnnotation struct {
	LineNumber     int            `json:"line_number"`
	AnnotationType AnnotationType `json:"annotation_type"`
	FindingID      string         `json:"finding_id"`
	Message        string         `json:"message"`
}

// DiffHunk is a contiguous region of changes with surrounding context.
type DiffHunk struct {
	OldStart    int              `json:"old_start"`
	OldLines    int              `json:"old_lines"`
	NewStart    int              `json:"new_start"`
	NewLines    int              `json:"new_lines"`
	Lines       []DiffLine       `json:"lines"`
	Annotations []LineAnnotation `json:"annotations"`
}

// hunkContext is the number of unchanged lines kept around each change.
const hunkContext = 3

// BuildHunks computes line-level unified hunks between two file contents.
func BuildHunks(oldContent, newContent string) []DiffHunk {
	lines := diffLines(oldContent, newContent)

	var groups [][2]int
	for i, l := range lines {
		if l.LineType == LineContext {
			continue
		}
		lo := max(0, i-hunkContext)
		hi := min(len(lines), i+hunkContext+1)
		if n := len(groups); n > 0 && lo <= groups[n-1][1] {
			groups[n-1][1] = max(groups[n-1][1], hi)
			continue
		}
		groups = append(groups, [2]int{lo, hi})
	}

	hunks := make([]DiffHunk, 0, len(groups))
	for _, g := range groups {
		hunks = append(hunks, newHunk(lines, g[0], g[1]))
	}
	return hunks
}

func newHunk(all []DiffLine, lo, hi int) DiffHunk {
	h := DiffHunk{Lines: append([]DiffLine(nil), all[lo:hi]...), Annotations: []LineAnnotation{}}
	for _, l := range h.Lines {
		if l.OldLineNumber > 0 {
			if h.OldStart == 0 {
				h.OldStart = l.OldLineNumber
			}
			h.OldLines++
		}
		if l.NewLineNumber > 0 {
			if h.NewStart == 0 {
				h.NewStart = l.NewLineNumber
			}
			h.NewLines++
		}
	}
	// An empty side starts at the line before the hunk.
	if h.OldLines == 0 {
		h.OldStart = precedingNumber(all, lo, func(l DiffLine) int { return l.OldLineNumber })
	}
	if h.NewLines == 0 {
		h.NewStart = precedingNumber(all, lo, func(l DiffLine) int { return l.NewLineNumber })
	}
	return h
}

func precedingNumber(all []DiffLine, idx int, num func(DiffLine) int) int {
	for i := idx - 1; i >= 0; i-- {
		if n := num(all[i]); n > 0 {
			return n
		}
	}
	return 0
}

func diffLines(oldContent, newContent string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []DiffLine
	oldNo, newNo := 0, 0
	for _, d := range diffs {
		for _, text := range splitKeepingLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNo++
				newNo++
				out = append(out, DiffLine{LineType: LineContext, Content: text, OldLineNumber: oldNo, NewLineNumber: newNo})
			case diffmatchpatch.DiffDelete:
				oldNo++
				out = append(out, DiffLine{LineType: LineRemoved, Content: text, OldLineNumber: oldNo})
			case diffmatchpatch.DiffInsert:
				newNo++
				out = append(out, DiffLine{LineType: LineAdded, Content: text, NewLineNumber: newNo})
			}
		}
	}
	return out
}

func splitKeepingLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// annotate attaches findings to the hunk covering their start line, or to the
// nearest hunk when none covers it.
func annotate(hunks []DiffHunk, findings []ReviewFinding) {
	if len(hunks) == 0 {
		return
	}
	for _, f := range findings {
		line := f.LineStart
		best, bestDist := 0, -1
		for i, h := range hunks {
			dist := 0
			switch {
			case line < h.NewStart:
				dist = h.NewStart - line
			case line >= h.NewStart+h.NewLines:
				dist = line - (h.NewStart + h.NewLines - 1)
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = i, dist
			}
		}
		hunks[best].Annotations = append(hunks[best].Annotations, LineAnnotation{
			LineNumber:     line,
			AnnotationType: annotationFor(f.Severity),
			FindingID:      f.ID,
			Message:        f.Title,
		})
	}
}

func annotationFor(s Severity) AnnotationType {
	switch s {
	case SeverityCritical, SeverityHigh:
		return AnnotationError
	case SeverityMedium:
		return AnnotationWarning
	case SeverityLow:
		return AnnotationSuggestion
	default:
		return AnnotationInfo
	}
}
