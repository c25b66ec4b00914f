package query

import (
	"fmt"
	"strings"
)

// Separator joins annotated chunks in an assembled context.
const Separator = "\n\n---\n\n"

const headerPrefix = "[Source: "

// Chunk is one retrieved passage with the fields shown in its annotation.
type Chunk struct {
	Filename      string
	Region        string
	Jurisdictions []string
	Text          string
}

// FormatContext renders chunks as
// "[Source: f | Region: r | Jurisdictions: a, b]\ntext" joined by Separator.
func FormatContext(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		filename := c.Filename
		if filename == "" {
			filename = "Unknown"
		}
		region := c.Region
		if region == "" {
			region = "global"
		}
		jurisdictions := strings.Join(c.Jurisdictions, ", ")
		if jurisdictions == "" {
			jurisdictions = "general"
		}
		parts[i] = fmt.Sprintf("%s%s | Region: %s | Jurisdictions: %s]\n%s", headerPrefix, filename, region, jurisdictions, c.Text)
	}
	return strings.Join(parts, Separator)
}

// ParseContext splits an assembled context back into chunk texts. A
// segment without a recognizable annotation is kept whole.
func ParseContext(context string) []string {
	var texts []string
	for _, segment := range strings.Split(context, Separator) {
		text := segment
		if strings.HasPrefix(segment, headerPrefix) {
			if end := strings.Index(segment, "]\n"); end >= 0 {
				text = segment[end+2:]
			}
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}
