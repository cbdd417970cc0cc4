package media

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// extensionTypes covers media types missing from the platform mime tables.
var extensionTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// Local serves media from the local filesystem; MediaRef is a path or a
// file:// URL. The session is ignored. Used by the drop-folder watcher.
type Local struct{}

func (Local) Fetch(ctx context.Context, _ *auth.Session, item model.CatalogItem) (model.MediaAsset, error) {
	if err := apperror.FromContext(ctx, "fetch"); err != nil {
		return model.MediaAsset{}, fetchError(item, "", err)
	}

	p := item.MediaRef
	if u, err := url.Parse(p); err == nil && u.Scheme == "file" {
		p = u.Path
	}
	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.MediaAsset{}, apperror.Permanent(fetchError(item, "local media missing", err))
		}
		return model.MediaAsset{}, fetchError(item, "open local media", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return model.MediaAsset{}, fetchError(item, "stat local media", err)
	}
	if info.IsDir() {
		file.Close()
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, "local media is a directory", nil))
	}

	ext := strings.ToLower(filepath.Ext(p))
	mimeType := extensionTypes[ext]
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return model.MediaAsset{
		ItemID:   item.ID,
		Body:     file,
		MIMEType: mimeType,
		Name:     filepath.Base(p),
		Size:     info.Size(),
	}, nil
}

// IsMediaFile reports whether path has an audio or video extension Local
// knows how to serve.
func IsMediaFile(path string) bool {
	_, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LocalItem describes a local media file as a catalog item. The id is
// derived from the file name so a re-dropped file hits the session cache.
func LocalItem(path string) model.CatalogItem {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	return model.CatalogItem{
		ID:       "local:" + base,
		Title:    strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(title)),
		MediaRef: path,
	}
}
