package model

import (
	"fmt"
	"io"
	"time"
)

// Credentials are used once per session to log into the library.
type Credentials struct {
	Email    string
	Password string
}

// String never prints the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email: %q, Password: [redacted]}", c.Email)
}

// Empty reports whether either field is missing.
func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// CatalogItem is one lecture entry returned by a library search.
type CatalogItem struct {
	ID       string
	Title    string
	MediaRef string
	Duration time.Duration // zero when the site does not expose it
	Year     string
	Speaker  string
}

// DisplayTitle returns the title with year and speaker when known.
func (c CatalogItem) DisplayTitle() string {
	year := c.Year
	if year == "" {
		year = "n/a"
	}
	speaker := c.Speaker
	if speaker == "" {
		speaker = "Unknown"
	}
	return fmt.Sprintf("%s (%s) - %s", c.Title, year, speaker)
}

// MediaAsset is a fetched media stream. The receiver of an asset owns Body
// and must close it.
type MediaAsset struct {
	ItemID   string
	Body     io.ReadCloser
	MIMEType string
	Name     string
	Size     int64 // -1 when unknown
}

// Close releases the underlying stream.
func (m MediaAsset) Close() error {
	if m.Body == nil {
		return nil
	}
	return m.Body.Close()
}

// Transcript is the speech-to-text output for one item.
type Transcript struct {
	ItemID   string
	Text     string
	Language string
}

// SummaryNotes is the bullet-point condensation of a transcript.
type SummaryNotes struct {
	ItemID  string
	Bullets []string
}

// Markdown renders the notes as a markdown bullet list.
func (n SummaryNotes) Markdown() string {
	var out []byte
	for _, b := range n.Bullets {
		out = append(out, "- "...)
		out = append(out, b...)
		out = append(out, '\n')
	}
	return string(out)
}
