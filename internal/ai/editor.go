package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/steveyegge/refine/internal/iterative"
)

// Criterion is one named quality dimension the editor scores.
type Criterion struct {
	Name        string
	Description string
}

// DefaultCriteria are the editorial criteria for blog posts.
var DefaultCriteria = []Criterion{
	{Name: "clarity", Description: "Is the writing clear and easy to understand?"},
	{Name: "structure", Description: "Does it have good flow and logical organization?"},
	{Name: "engagement", Description: "Is it interesting and does it hook the reader?"},
	{Name: "accuracy", Description: "Is the content accurate and well-reasoned?"},
	{Name: "completeness", Description: "Does it adequately cover the topic?"},
	{Name: "call_to_action", Description: "Is there a clear and compelling call-to-action?"},
}

// CriteriaFor resolves dimension names to criteria. Names without a known
// description are scored with their name alone.
func CriteriaFor(names []string) []Criterion {
	if len(names) == 0 {
		return DefaultCriteria
	}
	known := make(map[string]string, len(DefaultCriteria))
	for _, c := range DefaultCriteria {
		known[c.Name] = c.Description
	}
	criteria := make([]Criterion, 0, len(names))
	for _, name := range names {
		criteria = append(criteria, Criterion{Name: name, Description: known[name]})
	}
	return criteria
}

// critiqueResponse is the structured output requested from the editor.
type critiqueResponse struct {
	OverallAssessment string         `json:"overall_assessment" jsonschema:"required,description=Brief overall assessment of the draft"`
	Strengths         []string       `json:"strengths" jsonschema:"required,description=What is working well in the current draft"`
	Issues            []string       `json:"issues" jsonschema:"required,description=Specific and actionable issues that need improvement"`
	Scores            map[string]int `json:"scores" jsonschema:"required,description=Integer score for every criterion keyed by criterion name"`
}

// BlogEditor scores blog posts on several criteria and explains what to fix.
// It is the critic stage of the refinement loop.
//
// The Score it returns is built only from the per-criterion values; any
// overall score the model volunteers is ignored. Range checks are left to
// the controller so that out-of-scale values fail the run instead of being
// silently corrected.
type BlogEditor struct {
	gen       TextGenerator
	topic     string
	criteria  []Criterion
	scale     iterative.Scale
	target    int
	maxTokens int
	schema    string
}

var _ iterative.Critic[string] = (*BlogEditor)(nil)

// EditorConfig configures a BlogEditor.
type EditorConfig struct {
	Topic       string
	Criteria    []Criterion     // default: DefaultCriteria
	Scale       iterative.Scale // default: iterative.DefaultScale
	TargetScore int             // the publish threshold mentioned to the model
	MaxTokens   int             // default: 1024
}

// NewBlogEditor creates an editor backed by gen.
func NewBlogEditor(gen TextGenerator, cfg EditorConfig) (*BlogEditor, error) {
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = DefaultCriteria
	}
	if cfg.Scale.IsZero() {
		cfg.Scale = iterative.DefaultScale
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	schema, err := critiqueSchema()
	if err != nil {
		return nil, err
	}

	return &BlogEditor{
		gen:       gen,
		topic:     cfg.Topic,
		criteria:  cfg.Criteria,
		scale:     cfg.Scale,
		target:    cfg.TargetScore,
		maxTokens: cfg.MaxTokens,
		schema:    schema,
	}, nil
}

// ForTopic returns a copy of the editor that evaluates posts on topic.
func (e *BlogEditor) ForTopic(topic string) *BlogEditor {
	c := *e
	c.topic = topic
	return &c
}

// Critique implements iterative.Critic
func (e *BlogEditor) Critique(ctx context.Context, draft string) (*iterative.Evaluation, error) {
	text, _, err := e.gen.CallAI(ctx, "critique", "", e.buildPrompt(draft), e.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to critique draft: %w", err)
	}

	result := Parse[critiqueResponse](text, ParseOptions{Context: "editor critique"})
	if !result.Success {
		return nil, fmt.Errorf("failed to parse critique: %s", result.Error)
	}
	return e.toEvaluation(result.Data)
}

// toEvaluation orders the dimensions as configured. Criteria the model
// skipped are an error; names it invented are dropped.
func (e *BlogEditor) toEvaluation(resp critiqueResponse) (*iterative.Evaluation, error) {
	dims := make([]iterative.Dimension, 0, len(e.criteria))
	var missing []string
	for _, c := range e.criteria {
		v, ok := resp.Scores[c.Name]
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		dims = append(dims, iterative.Dimension{Name: c.Name, Value: v})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("critique is missing scores for: %s", strings.Join(missing, ", "))
	}

	return &iterative.Evaluation{
		Score: iterative.Score{Dimensions: dims},
		Feedback: iterative.Feedback{
			Assessment: strings.TrimSpace(resp.OverallAssessment),
			Strengths:  resp.Strengths,
			Issues:     resp.Issues,
		},
	}, nil
}

func (e *BlogEditor) buildPrompt(draft string) string {
	var sb strings.Builder
	sb.WriteString("You are an experienced blog editor providing constructive feedback.\n\n")
	fmt.Fprintf(&sb, "Evaluate the following blog post on the topic: %q\n\n", e.topic)
	fmt.Fprintf(&sb, "Blog Post:\n%s\n\n", draft)

	sb.WriteString("Evaluate the post based on these criteria:\n")
	for i, c := range e.criteria {
		if c.Description != "" {
			fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, c.Name, c.Description)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Name)
		}
	}

	fmt.Fprintf(&sb, `
Provide structured feedback with:
- Overall assessment (brief summary)
- List of strengths (what's working well)
- List of specific issues to address (be specific and actionable)
- An integer score from %[1]d to %[2]d for each criterion, keyed by its exact name

IMPORTANT: Use the full %[1]d-%[2]d range so that incremental improvements are visible.`, e.scale.Min, e.scale.Max)
	if e.target > 0 {
		fmt.Fprintf(&sb, " A post whose criteria average %d or more is ready to publish.", e.target)
	}

	fmt.Fprintf(&sb, "\n\nRespond with a single JSON object matching this schema and nothing else:\n%s\n", e.schema)
	return sb.String()
}

func critiqueSchema() (string, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(critiqueResponse))
	schema.Version = ""

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal critique schema: %w", err)
	}
	return string(data), nil
}
