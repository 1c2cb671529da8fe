package agent

import (
	"math/rand/v2"
	"strings"

	"relaybot/internal/domain"
)

const defaultLoadingMessage = "Working on it..."

// PromptBuilder renders the interim message sent while the backends work:
// a loading line, a usage tip and, when available, the integrations link.
type PromptBuilder struct {
	loading []string
	tips    []string
	pick    func(n int) int
}

// NewPromptBuilder copies the given lists. Empty lists are allowed.
func NewPromptBuilder(loading, tips []string) *PromptBuilder {
	return &PromptBuilder{
		loading: nonEmpty(loading),
		tips:    nonEmpty(tips),
		pick:    rand.IntN,
	}
}

// Build renders the prompt for one turn.
func (p *PromptBuilder) Build(link domain.LinkResult) string {
	var sb strings.Builder
	if len(p.loading) > 0 {
		sb.WriteString(p.loading[p.pick(len(p.loading))])
	} else {
		sb.WriteString(defaultLoadingMessage)
	}
	if len(p.tips) > 0 {
		sb.WriteString("\n\n_")
		sb.WriteString(p.tips[p.pick(len(p.tips))])
		sb.WriteString("_")
	}
	if link.Available() {
		sb.WriteString(LinkLine(link.URL))
	}
	return sb.String()
}

// LinkLine is the markdown line that carries the integrations link.
func LinkLine(url string) string {
	return "\n\n[Manage your Integrations](" + url + ")"
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
