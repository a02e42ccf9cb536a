package campaign

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/churn-analytics/internal/churn"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// GeminiDrafter drafts campaign messages with a Gemini model.
type GeminiDrafter struct {
	client *genai.Client
	model  string
}

// NewGeminiDrafter creates a drafter. Credentials come from the environment
// as for any genai client.
func NewGeminiDrafter(ctx context.Context, model string) (*GeminiDrafter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiDrafter: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiDrafter{client: client, model: model}, nil
}

// Draft implements Drafter.
func (d *GeminiDrafter) Draft(ctx context.Context, rec Recommendation, li churn.LevelImpact) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: draftPrompt(rec, li)}},
		},
	}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Draft: generate content: %w", err)
	}
	text := cleanModelText(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Draft: empty response from model")
	}
	return text, nil
}

func draftPrompt(rec Recommendation, li churn.LevelImpact) string {
	var b strings.Builder
	b.WriteString("You write short retention campaign messages for an e-commerce marketplace.\n\n")
	fmt.Fprintf(&b, "Segment: %s customers (%s).\n", rec.RiskLevel, strings.ToLower(rec.Priority))
	fmt.Fprintf(&b, "- customers: %d (%.1f%% of the base)\n", li.Customers, li.SharePct)
	fmt.Fprintf(&b, "- average revenue per customer: %.2f\n", li.AvgRevenue)
	fmt.Fprintf(&b, "- average orders: %.2f\n", li.AvgFrequency)
	fmt.Fprintf(&b, "- average days since last order: %.0f\n", li.AvgRecencyDays)
	fmt.Fprintf(&b, "- average review score: %.2f\n", li.AvgReviewScore)
	b.WriteString("\nPlanned actions:\n")
	for _, a := range rec.Actions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	b.WriteString("\nWrite one customer-facing message of at most three sentences that fits these actions.\n")
	b.WriteString("Return only the message text, without quotes, Markdown or a subject line.\n")
	return b.String()
}

// cleanModelText strips code fences and surrounding quotes the model may
// add despite instructions.
func cleanModelText(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
