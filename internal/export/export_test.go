package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Prostate Artery Embolization", "Prostate_Artery_Embolization"},
		{"TACE vs. TARE: 2023 update!", "TACE_vs_TARE_2023_update"},
		{"Ablação hepática", "Abla_o_hep_tica"},
		{"???", ""},
		{strings.Repeat("ab ", 40), "ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := SafeName(tt.title)
			if got != tt.want {
				t.Errorf("SafeName(%q) = %q, want %q", tt.title, got, tt.want)
			}
			if len(got) > 50 {
				t.Errorf("SafeName(%q) is %d characters", tt.title, len(got))
			}
		})
	}
}

func TestExport(t *testing.T) {
	item := model.CatalogItem{ID: "101", Title: "Prostate Artery Embolization", Year: "2023", Speaker: "J. Smith"}
	transcript := model.Transcript{ItemID: "101", Text: "Welcome everyone. Today we discuss PAE.", Language: "english"}
	notes := model.SummaryNotes{ItemID: "101", Bullets: []string{"Select patients carefully", "Use **cone-beam CT**"}}

	tests := []struct {
		name string
		docx bool
	}{
		{name: "markdown only"},
		{name: "with docx", docx: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			e := New(Config{OutputDir: dir, Docx: tt.docx}, logger.Nop())

			files, err := e.Export(context.Background(), item, transcript, notes)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			if want := filepath.Join(dir, "Prostate_Artery_Embolization.md"); files.Transcript != want {
				t.Errorf("Transcript = %q, want %q", files.Transcript, want)
			}
			if want := filepath.Join(dir, "Prostate_Artery_Embolization.notes.md"); files.Notes != want {
				t.Errorf("Notes = %q, want %q", files.Notes, want)
			}

			md := readFile(t, files.Transcript)
			for _, want := range []string{"# Prostate Artery Embolization (2023) - J. Smith", "Today we discuss PAE."} {
				if !strings.Contains(md, want) {
					t.Errorf("transcript markdown missing %q:\n%s", want, md)
				}
			}
			nm := readFile(t, files.Notes)
			for _, want := range []string{"- Select patients carefully\n", "- Use **cone-beam CT**\n"} {
				if !strings.Contains(nm, want) {
					t.Errorf("notes markdown missing %q:\n%s", want, nm)
				}
			}

			if !tt.docx {
				if files.TranscriptDocx != "" || files.NotesDocx != "" {
					t.Errorf("docx written without being enabled: %+v", files)
				}
				return
			}
			for _, p := range []string{files.TranscriptDocx, files.NotesDocx} {
				data, err := os.ReadFile(p)
				if err != nil {
					t.Fatalf("read %s: %v", p, err)
				}
				if !bytes.HasPrefix(data, []byte("PK")) {
					t.Errorf("%s is not a docx archive", p)
				}
			}
		})
	}
}

func TestExportFallsBackToItemID(t *testing.T) {
	dir := t.TempDir()
	files, err := New(Config{OutputDir: dir}, nil).Export(context.Background(),
		model.CatalogItem{ID: "abc-9", Title: "???"}, model.Transcript{Text: "x"}, model.SummaryNotes{Bullets: []string{"y"}})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(files.Transcript) != "lecture_abc_9.md" {
		t.Errorf("Transcript = %q", files.Transcript)
	}
}

func TestExportRejectsMismatchedItems(t *testing.T) {
	e := New(Config{OutputDir: t.TempDir()}, nil)
	item := model.CatalogItem{ID: "1", Title: "A"}
	if _, err := e.Export(context.Background(), item, model.Transcript{ItemID: "2"}, model.SummaryNotes{}); err == nil {
		t.Error("expected an error for a transcript of another item")
	}
	if _, err := e.Export(context.Background(), item, model.Transcript{}, model.SummaryNotes{ItemID: "2"}); err == nil {
		t.Error("expected an error for notes of another item")
	}
}

func TestParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: " \n ", want: 0},
		{name: "blank line breaks kept", text: "One.\n\nTwo.", want: 2},
		{name: "short block", text: "One. Two. Three.", want: 1},
		{name: "long block regrouped", text: strings.Repeat("A sentence here. ", 12), want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paragraphs(tt.text); len(got) != tt.want {
				t.Errorf("paragraphs() = %q, want %d paragraphs", got, tt.want)
			}
		})
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
