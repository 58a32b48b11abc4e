// Package retrieval answers free-text questions about a user's timetable.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/index"
)

// Fixed replies.
const (
	NoMatchesReply = "No relevant timetable information found for your query."
	ApologyReply   = "Sorry, I couldn't process your query at the moment."
)

// Defaults.
const (
	DefaultTopK           = 5
	DefaultComposeTimeout = 60 * time.Second
)

// Searcher finds the entries nearest to a question.
type Searcher interface {
	Query(ctx context.Context, userID, text string, k int) ([]index.Match, error)
}

// Composer writes the final answer from the question and a context block.
type Composer interface {
	Compose(ctx context.Context, question, contextBlock string) (string, error)
}

// Pipeline runs question -> top-k snippets -> composed answer.
type Pipeline struct {
	Searcher Searcher
	Composer Composer
	TopK     int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Answer never returns an error. Failures become ApologyReply.
func (p *Pipeline) Answer(ctx context.Context, userID, question string) string {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retrieval", "user_id", userID)

	k := p.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultComposeTimeout
	}

	matches, err := p.Searcher.Query(ctx, userID, question, k)
	if err != nil {
		logger.Error("query index", "error", err, "error_kind", errors.Kind(err))
		return ApologyReply
	}
	if len(matches) == 0 {
		return NoMatchesReply
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := p.Composer.Compose(cctx, question, BuildContext(matches))
	if err != nil {
		logger.Error("compose answer", "matches", len(matches), "error", err, "error_kind", errors.Kind(err))
		return ApologyReply
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		logger.Warn("composer returned empty answer")
		return ApologyReply
	}
	return answer
}

// BuildContext renders matches as the block handed to the composer, one
// line per match in rank order.
func BuildContext(matches []index.Match) string {
	var b strings.Builder
	b.WriteString("Timetable Information:\n")
	for _, m := range matches {
		b.WriteString("- ")
		b.WriteString(m.Day)
		b.WriteString(" ")
		b.WriteString(m.Time)
		b.WriteString(": ")
		b.WriteString(m.Subject)
		if m.FullName != "" {
			b.WriteString(" (")
			b.WriteString(m.FullName)
			b.WriteString(")")
		}
		if m.Type != "" {
			b.WriteString(" [")
			b.WriteString(m.Type)
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
