package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

const (
	maxPlaylistBytes = 4 << 20
	maxPlaylistDepth = 2
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)
	uriAttr     = regexp.MustCompile(`URI="([^"]*)"`)
)

// fetchHLS downloads the audio track of an HLS playlist into a temp file with
// ffmpeg. The file is removed when the asset is closed.
func (f *implFetcher) fetchHLS(ctx context.Context, cancel context.CancelFunc, sess *auth.Session, item model.CatalogItem, playlist *url.URL) (model.MediaAsset, error) {
	// Request the playlist through the session first so an expired login is
	// refreshed and redirects are checked before ffmpeg sees the URL.
	resp, err := f.get(ctx, sess, playlist)
	if err != nil {
		return model.MediaAsset{}, err
	}
	if err := checkResponse(sess, item, resp); err != nil {
		return model.MediaAsset{}, err
	}
	final := resp.Request.URL
	// ffmpeg sends the cookie header to every URI the playlist names.
	if err := f.checkPlaylist(ctx, sess, item, resp, 0); err != nil {
		return model.MediaAsset{}, err
	}

	dir := f.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.MediaAsset{}, fetchError(item, "create temp dir", err)
	}
	tmp, err := os.CreateTemp(dir, "hls-"+unsafeChars.ReplaceAllString(item.ID, "_")+"-*.m4a")
	if err != nil {
		return model.MediaAsset{}, fetchError(item, "create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if headers := ffmpegHeaders(sess.CookieHeader(final), f.cfg.UserAgent); headers != "" {
		args = append(args, "-headers", headers)
	}
	args = append(args,
		"-i", final.String(),
		"-vn",
		"-ac", "1",
		"-c:a", "aac",
		"-b:a", "96k",
		"-y",
		tmpPath,
	)

	f.logger.Info(ctx, "Downloading HLS stream for %s with ffmpeg", item.ID)
	if _, err := f.executor.Execute(ctx, f.cfg.FFmpegPath, args...); err != nil {
		os.Remove(tmpPath)
		return model.MediaAsset{}, fetchError(item, "ffmpeg hls download", err)
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return model.MediaAsset{}, fetchError(item, "open hls audio", err)
	}
	info, err := file.Stat()
	if err != nil || info.Size() == 0 {
		file.Close()
		os.Remove(tmpPath)
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, "ffmpeg produced no audio", err))
	}

	return model.MediaAsset{
		ItemID:   item.ID,
		Body:     &tempFile{File: file, path: tmpPath, cancel: cancel},
		MIMEType: "audio/mp4",
		Name:     fmt.Sprintf("%s.m4a", unsafeChars.ReplaceAllString(item.ID, "_")),
		Size:     info.Size(),
	}, nil
}

// checkPlaylist reads the playlist in resp and fails unless every segment,
// key, map and variant URI stays on the library domain. Variant playlists are
// followed through the session. It closes the body.
func (f *implFetcher) checkPlaylist(ctx context.Context, sess *auth.Session, item model.CatalogItem, resp *http.Response, depth int) error {
	base := resp.Request.URL
	refs, err := playlistURIs(resp.Body)
	discard(resp)
	if err != nil {
		return fetchError(item, "read playlist", err)
	}

	for _, raw := range refs {
		ref, err := url.Parse(raw)
		if err != nil {
			return apperror.Permanent(fetchError(item, fmt.Sprintf("invalid playlist entry %q", raw), err))
		}
		u := base.ResolveReference(ref)
		if !sess.AllowsHost(u) {
			return offDomain(item, u)
		}
		if !isHLSPath(u) {
			continue
		}
		if depth >= maxPlaylistDepth {
			return apperror.Permanent(fetchError(item, "playlists nested too deeply", nil))
		}
		nested, err := f.get(ctx, sess, u)
		if err != nil {
			return err
		}
		if err := checkResponse(sess, item, nested); err != nil {
			return err
		}
		if err := f.checkPlaylist(ctx, sess, item, nested, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// playlistURIs lists the URI lines of an m3u8 playlist and the URI="..."
// attributes of its tags, in order.
func playlistURIs(r io.Reader) ([]string, error) {
	var refs []string
	scanner := bufio.NewScanner(io.LimitReader(r, maxPlaylistBytes))
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			for _, m := range uriAttr.FindAllStringSubmatch(line, -1) {
				refs = append(refs, m[1])
			}
		default:
			refs = append(refs, line)
		}
	}
	return refs, scanner.Err()
}

func ffmpegHeaders(cookie, userAgent string) string {
	var b strings.Builder
	if cookie != "" {
		b.WriteString("Cookie: " + cookie + "\r\n")
	}
	if userAgent != "" {
		b.WriteString("User-Agent: " + userAgent + "\r\n")
	}
	return b.String()
}

// tempFile deletes its backing file on Close.
type tempFile struct {
	*os.File
	path   string
	cancel context.CancelFunc
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	t.cancel()
	return err
}
