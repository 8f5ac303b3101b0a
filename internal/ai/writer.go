package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/refine/internal/iterative"
)

// TextGenerator produces text from a prompt. Supervisor implements it.
type TextGenerator interface {
	CallAI(ctx context.Context, operation, system, prompt string, maxTokens int) (string, Usage, error)
}

var _ TextGenerator = (*Supervisor)(nil)

const writerSystemPrompt = "You are a skilled blog writer creating engaging content."

// BlogWriter writes and revises blog posts. It is the producer stage of the
// refinement loop.
type BlogWriter struct {
	gen       TextGenerator
	minWords  int
	maxWords  int
	maxTokens int
}

var _ iterative.Producer[string] = (*BlogWriter)(nil)

// WriterOption configures a BlogWriter.
type WriterOption func(*BlogWriter)

// WithWordRange sets the target length of the post.
func WithWordRange(minWords, maxWords int) WriterOption {
	return func(w *BlogWriter) {
		w.minWords = minWords
		w.maxWords = maxWords
	}
}

// WithWriterMaxTokens caps the tokens of each draft.
func WithWriterMaxTokens(n int) WriterOption {
	return func(w *BlogWriter) {
		w.maxTokens = n
	}
}

// NewBlogWriter creates a writer backed by gen.
func NewBlogWriter(gen TextGenerator, opts ...WriterOption) *BlogWriter {
	w := &BlogWriter{
		gen:       gen,
		minWords:  300,
		maxWords:  400,
		maxTokens: 2048,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Produce writes the first draft, or revises the prior draft against the
// latest editorial feedback.
func (w *BlogWriter) Produce(ctx context.Context, req iterative.ProduceRequest[string]) (string, error) {
	operation := "draft"
	if req.IsRevision() {
		operation = "revision"
	}

	draft, _, err := w.gen.CallAI(ctx, operation, writerSystemPrompt, w.buildPrompt(req), w.maxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to write %s %d: %w", operation, req.Iteration, err)
	}
	return draft, nil
}

func (w *BlogWriter) buildPrompt(req iterative.ProduceRequest[string]) string {
	var intro, instruction string
	if !req.IsRevision() {
		intro = "This is your first draft."
		instruction = "Write a compelling first draft."
	} else {
		intro = fmt.Sprintf("This is iteration %d. You are revising your previous draft based on editorial feedback.", req.Iteration)

		feedback := "The editor raised no specific issues."
		if req.Feedback != nil && req.Score != nil {
			feedback = req.Feedback.Format(*req.Score, req.Scale)
		}

		ask := "Please revise the draft above to address all the issues mentioned in the feedback while preserving the strengths."
		if req.Feedback == nil || len(req.Feedback.Issues) == 0 {
			ask = "The editor listed no issues. Keep the draft and only polish wording where it clearly helps."
		}

		instruction = fmt.Sprintf(`Previous draft:
---
%s
---

Editorial feedback on this draft:
%s

%s`, *req.Prior, feedback, ask)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", intro)
	fmt.Fprintf(&sb, "Topic: %s\n\n", req.Brief)
	sb.WriteString("Requirements:\n")
	fmt.Fprintf(&sb, "- Write a blog post of approximately %d-%d words\n", w.minWords, w.maxWords)
	sb.WriteString("- Include a compelling hook in the opening\n")
	sb.WriteString("- Use clear structure with logical flow\n")
	sb.WriteString("- Make it engaging and readable\n")
	sb.WriteString("- Include a call-to-action at the end\n\n")
	sb.WriteString(instruction)
	sb.WriteString("\n\nWrite the blog post:")
	return sb.String()
}
