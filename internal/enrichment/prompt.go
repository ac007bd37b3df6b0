package enrichment

import (
	"strings"

	"github.com/econpulse/econpulse/internal/models"
)

// systemPrompt instructs the analysis backend. Output contract: strict JSON,
// Korean text, a category from the fixed label set, exactly two background
// items, up to four keywords, up to two related indicator codes from the
// injected catalog, a short summary and free-form tags.
const systemPrompt = `CRITICAL: You MUST output ONLY valid JSON. Do not include any text before or after the JSON object. Do not wrap it in markdown code blocks.

You are an expert financial news analyst specializing in the South Korean economy. Analyze the given news article and respond with a JSON object.

Requirements:
1. All textual content in the JSON MUST be in Korean.
2. "category": classify the article as exactly one of: "금융", "증권", "글로벌 경제", "생활 경제".
3. "summary": 2-3 sentences capturing what happened and why it matters. Do not copy article sentences verbatim.
4. "background_knowledge": exactly two items of context a non-expert reader needs, each with a short "label" and a 3-4 sentence "content" paragraph. Explain foundational concepts or prior events, do not summarize the article.
5. "keywords": up to four key terms from the article, each with a "term" and a friendly 1-2 sentence "description".
6. "tags": 2-5 short topical tags (single words or short phrases).
7. "related_statistics": up to two entries from the indicator list below that the article meaningfully relates to, each with the listed "code" and a 1-2 sentence Korean "reason" for the connection. Use [] when none apply. NEVER use a code that is not in the list.

Indicator list:
%INDICATORS%

Output JSON structure:
{
  "category": "...",
  "summary": "...",
  "background_knowledge": [
    {"label": "...", "content": "..."},
    {"label": "...", "content": "..."}
  ],
  "keywords": [
    {"term": "...", "description": "..."}
  ],
  "tags": ["..."],
  "related_statistics": [
    {"code": "...", "reason": "..."}
  ]
}`

// strictSuffix is appended on the retry after a malformed response.
const strictSuffix = `

Your previous response was invalid. This time you MUST return a single raw JSON object that exactly matches the structure above. The "category" field MUST be one of the four listed labels, character for character. Every required field MUST be present and non-empty.`

// buildSystemPrompt renders the prompt with the indicator catalog injected so
// the model only ever sees codes it is allowed to reference.
func buildSystemPrompt(strict bool, indicators []models.Indicator) string {
	var list strings.Builder
	for _, ind := range indicators {
		list.WriteString("- ")
		list.WriteString(ind.Code)
		list.WriteString(": ")
		list.WriteString(ind.Name)
		list.WriteString("\n")
	}
	if list.Len() == 0 {
		list.WriteString("(empty; always return [] for related_statistics)\n")
	}

	prompt := strings.Replace(systemPrompt, "%INDICATORS%", strings.TrimRight(list.String(), "\n"), 1)
	if strict {
		return prompt + strictSuffix
	}
	return prompt
}

// analysisPayload is the backend's response schema. It is validated at the
// boundary and converted into models.EnrichedArticle immediately.
type analysisPayload struct {
	Category     string                    `json:"category"`
	Summary      string                    `json:"summary"`
	Background   []models.BackgroundItem   `json:"background_knowledge"`
	Keywords     []models.KeywordItem      `json:"keywords"`
	Tags         []string                  `json:"tags"`
	RelatedStats []models.RelatedStatistic `json:"related_statistics"`
}

// validate checks the payload against the expected schema. The category must
// be a known label; summary must be non-empty.
func (p *analysisPayload) validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return errMissingField("summary")
	}
	if !models.ValidCategory(models.Category(strings.TrimSpace(p.Category))) {
		return errBadCategory(p.Category)
	}
	for i, item := range p.Background {
		if strings.TrimSpace(item.Label) == "" || strings.TrimSpace(item.Content) == "" {
			return errMissingBackground(i)
		}
	}
	for i, kw := range p.Keywords {
		if strings.TrimSpace(kw.Term) == "" {
			return errMissingKeyword(i)
		}
	}
	for i, rs := range p.RelatedStats {
		if strings.TrimSpace(rs.Code) == "" || strings.TrimSpace(rs.Reason) == "" {
			return errMissingRelated(i)
		}
	}
	return nil
}
