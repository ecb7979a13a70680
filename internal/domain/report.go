package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxChunkLen bounds every message chunk sent back to the operator.
	MaxChunkLen = 4000
	// PreviewLen is the number of records shown per category in a preview.
	PreviewLen = 5
)

// Report aggregates the outcomes of one batch in attempt order.
type Report struct {
	BatchID         string
	DestinationID   int64
	OperatorContact string
	Total           int
	Successes       []OutcomeRecord
	Failures        []OutcomeRecord
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Add appends a record to the success or failure sequence.
func (r *Report) Add(rec OutcomeRecord) {
	if rec.Category.Success() {
		r.Successes = append(r.Successes, rec)
		return
	}
	r.Failures = append(r.Failures, rec)
}

// Attempted is the number of targets that produced an outcome.
func (r Report) Attempted() int {
	return len(r.Successes) + len(r.Failures)
}

// SuccessRate is successes over attempted targets as a percentage, 0 when nothing was attempted.
func (r Report) SuccessRate() float64 {
	n := r.Attempted()
	if n == 0 {
		return 0
	}
	return float64(len(r.Successes)) * 100 / float64(n)
}

// Lines renders the report one line per entry. Every record occupies exactly one line.
func (r Report) Lines() []string {
	lines := []string{
		fmt.Sprintf("Added: %d", len(r.Successes)),
		fmt.Sprintf("Failed: %d", len(r.Failures)),
		fmt.Sprintf("Success rate: %.1f%%", r.SuccessRate()),
	}
	if r.Attempted() < r.Total {
		lines = append(lines, fmt.Sprintf("Processed %d of %d targets", r.Attempted(), r.Total))
	}
	lines = append(lines, "", fmt.Sprintf("First %d added:", PreviewLen))
	lines = append(lines, previewLines(recordLines(r.Successes), PreviewLen)...)
	lines = append(lines, "", fmt.Sprintf("First %d failed:", PreviewLen))
	lines = append(lines, previewLines(recordLines(r.Failures), PreviewLen)...)
	if r.Attempted() > 0 {
		lines = append(lines, "", "All outcomes:")
		lines = append(lines, recordLines(r.Successes)...)
		lines = append(lines, recordLines(r.Failures)...)
	}
	return lines
}

// Text is the whole report as a single string.
func (r Report) Text() string {
	return strings.Join(r.Lines(), "\n")
}

// Chunks splits the report into segments of at most limit characters without
// splitting a record across segments.
func (r Report) Chunks(limit int) []string {
	return ChunkLines(r.Lines(), limit)
}

// Preview joins the first n lines and appends "(and K more...)" when truncated.
func Preview(lines []string, n int) string {
	return strings.Join(previewLines(lines, n), "\n")
}

func previewLines(lines []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(lines) <= n {
		return append([]string(nil), lines...)
	}
	out := append([]string(nil), lines[:n]...)
	return append(out, fmt.Sprintf("(and %d more...)", len(lines)-n))
}

func recordLines(records []OutcomeRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.String())
	}
	return out
}

// ChunkLines packs lines into chunks of at most limit characters joined by
// newlines. A line is only ever split when it alone exceeds limit.
func ChunkLines(lines []string, limit int) []string {
	if limit <= 0 {
		limit = MaxChunkLen
	}
	var (
		chunks []string
		cur    []string
		curLen int
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
		}
		cur = cur[:0]
		curLen = 0
	}
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if n > limit {
			flush()
			chunks = append(chunks, splitRunes(line, limit)...)
			continue
		}
		add := n
		if len(cur) > 0 {
			add++ // newline separator
		}
		if curLen+add > limit {
			flush()
			add = n
		}
		cur = append(cur, line)
		curLen += add
	}
	flush()
	return chunks
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
