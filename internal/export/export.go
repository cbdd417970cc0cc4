package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

const maxNameLen = 50

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// SafeName turns a lecture title into a file name stem: runs of anything
// but ASCII letters and digits become "_", capped at 50 characters.
func SafeName(title string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(title, "_"), "_")
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "_")
	}
	return name
}

// Export writes <name>.md with the transcript and <name>.notes.md with the
// notes, plus docx versions when enabled.
func (e *implExporter) Export(ctx context.Context, item model.CatalogItem, transcript model.Transcript, notes model.SummaryNotes) (Files, error) {
	if err := ctx.Err(); err != nil {
		return Files{}, err
	}
	if transcript.ItemID != "" && transcript.ItemID != item.ID {
		return Files{}, fmt.Errorf("export %s: transcript belongs to item %s", item.ID, transcript.ItemID)
	}
	if notes.ItemID != "" && notes.ItemID != item.ID {
		return Files{}, fmt.Errorf("export %s: notes belong to item %s", item.ID, notes.ItemID)
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return Files{}, fmt.Errorf("export %s: create output dir: %w", item.ID, err)
	}

	name := SafeName(item.Title)
	if name == "" {
		name = "lecture_" + SafeName(item.ID)
	}
	base := filepath.Join(e.cfg.OutputDir, name)
	title := item.DisplayTitle()

	files := Files{
		Transcript: base + ".md",
		Notes:      base + ".notes.md",
	}
	if err := writeFile(files.Transcript, transcriptMarkdown(title, transcript)); err != nil {
		return Files{}, fmt.Errorf("export %s: %w", item.ID, err)
	}
	if err := writeFile(files.Notes, notesMarkdown(title, notes)); err != nil {
		return Files{}, fmt.Errorf("export %s: %w", item.ID, err)
	}

	if e.cfg.Docx {
		files.TranscriptDocx = base + ".docx"
		files.NotesDocx = base + ".notes.docx"
		if err := transcriptToDocx(title, transcript.Text, files.TranscriptDocx); err != nil {
			return Files{}, fmt.Errorf("export %s: transcript docx: %w", item.ID, err)
		}
		if err := markdownToDocx(title, notes.Markdown(), files.NotesDocx); err != nil {
			return Files{}, fmt.Errorf("export %s: notes docx: %w", item.ID, err)
		}
	}

	e.logger.Info(ctx, "Saved transcript and notes for %s to %s", item.ID, e.cfg.OutputDir)
	return files, nil
}

func transcriptMarkdown(title string, transcript model.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if transcript.Language != "" {
		fmt.Fprintf(&b, "_Language: %s_\n\n", transcript.Language)
	}
	for _, p := range paragraphs(transcript.Text) {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

func notesMarkdown(title string, notes model.SummaryNotes) string {
	return fmt.Sprintf("# %s\n\n## Key learning points\n\n%s", title, notes.Markdown())
}

// writeFile replaces path atomically so a crash never leaves half a file.
func writeFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?\s+`)

const sentencesPerParagraph = 5

// paragraphs keeps existing blank-line breaks. A transcript that comes back
// as one block is regrouped every few sentences for readability.
func paragraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		block = strings.Join(strings.Fields(block), " ")
		if block == "" {
			continue
		}
		out = append(out, groupSentences(block)...)
	}
	return out
}

func groupSentences(block string) []string {
	ends := sentenceEnd.FindAllStringIndex(block, -1)
	if len(ends) < sentencesPerParagraph {
		return []string{block}
	}
	var out []string
	start := 0
	for i, loc := range ends {
		if (i+1)%sentencesPerParagraph == 0 {
			out = append(out, strings.TrimSpace(block[start:loc[1]]))
			start = loc[1]
		}
	}
	if rest := strings.TrimSpace(block[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
