package extraction

import (
	"fmt"
	"strings"

	"github.com/joelkehle/civic-associations/internal/records"
)

const defaultSystemPrompt = `You are an expert at extracting structured data from 19th-century US city directories.
You will be given sections from civic association listings and must extract:
- Association name
- Association type (temperance, masonic, hunting, etc.)
- Members and their roles

Return the data as valid JSON conforming to this structure:
{
  "name": "Association Name",
  "association_type": "type",
  "members": [
    {"full_name": "Name", "role": "Position"}
  ]
}

Focus on accuracy and completeness. If a field is unclear, omit it rather than guessing.
Respond with strict JSON only.`

// Prompts is the system/user prompt pair for one extraction call.
type Prompts struct {
	System string
	User   string
}

// BuildPrompts renders the extraction prompts for a section. An empty
// systemPrompt selects the default.
func BuildPrompts(section records.Section, systemPrompt string) Prompts {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString("Extract civic association information from this directory section.\n\n")
	fmt.Fprintf(&b, "Location: %s, %s\n", section.City, section.State)
	fmt.Fprintf(&b, "Year: %d\n\n", section.Year)
	b.WriteString("Section text:\n")
	b.WriteString(section.RawText)
	b.WriteString("\n\nReturn valid JSON with the association information.")
	return Prompts{System: systemPrompt, User: b.String()}
}
