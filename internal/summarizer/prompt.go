package summarizer

import (
	"fmt"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

const systemPrompt = "You are a medical conference summariser."

const notesTemplate = `You are a medical conference summariser.
Produce concise bullet-point notes (max %d bullets) covering key learning points from this CIRSE lecture titled
'%s' by %s.
Answer with the bullet list only, one "- " bullet per line.

--- Begin transcript ---
%s
--- End transcript ---`

const chunkTemplate = `You are a medical conference summariser.
This is part %d of %d of the transcript of the CIRSE lecture titled '%s' by %s.
List the key learning points of this part only as concise bullets (max %d), one "- " bullet per line.

--- Begin transcript part ---
%s
--- End transcript part ---`

const mergeTemplate = `You are a medical conference summariser.
Below are partial notes taken from consecutive parts of the CIRSE lecture titled '%s' by %s.
Merge them into concise bullet-point notes (max %d bullets) covering the key learning points of the whole lecture,
in the order they were presented. Drop duplicates. Answer with the bullet list only, one "- " bullet per line.

%s`

func speaker(item model.CatalogItem) string {
	if s := strings.TrimSpace(item.Speaker); s != "" {
		return s
	}
	return "unknown speaker"
}

func notesPrompt(item model.CatalogItem, transcript string, maxBullets int) string {
	return fmt.Sprintf(notesTemplate, maxBullets, item.Title, speaker(item), transcript)
}

func chunkPrompt(item model.CatalogItem, chunk string, part, total, maxBullets int) string {
	return fmt.Sprintf(chunkTemplate, part, total, item.Title, speaker(item), maxBullets, chunk)
}

func mergePrompt(item model.CatalogItem, partials []string, maxBullets int) string {
	var b strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&b, "--- Part %d ---\n%s\n\n", i+1, p)
	}
	return fmt.Sprintf(mergeTemplate, item.Title, speaker(item), maxBullets, strings.TrimSpace(b.String()))
}
