package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// mediaSources are tried in order on an item page.
var mediaSources = []struct {
	selector string
	attr     string
}{
	{"video source[src]", "src"},
	{"video[src]", "src"},
	{"audio source[src]", "src"},
	{"audio[src]", "src"},
	{`meta[property="og:video"]`, "content"},
	{`meta[property="og:video:url"]`, "content"},
	{`meta[property="og:audio"]`, "content"},
	{"a[download][href]", "href"},
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".mkv": true,
	".mp3": true, ".m4a": true, ".aac": true, ".wav": true, ".ogg": true,
	".oga": true, ".flac": true, ".mpga": true, ".mpeg": true, ".m3u8": true,
}

var hlsTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

func (f *implFetcher) Fetch(ctx context.Context, sess *auth.Session, item model.CatalogItem) (model.MediaAsset, error) {
	if sess == nil {
		return model.MediaAsset{}, fetchError(item, "no library session", nil)
	}
	ref, err := url.Parse(strings.TrimSpace(item.MediaRef))
	if err != nil || !ref.IsAbs() {
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, fmt.Sprintf("invalid media reference %q", item.MediaRef), err))
	}
	if !sess.AllowsHost(ref) {
		return model.MediaAsset{}, offDomain(item, ref)
	}

	// The timeout covers reading the body, so cancel is handed to the asset.
	ctx, cancel := f.downloadContext(ctx)
	asset, err := f.fetch(ctx, cancel, sess, item, ref)
	if err != nil {
		// Classify while the download context is still live.
		err = f.classify(ctx, item, err)
		cancel()
		return model.MediaAsset{}, err
	}
	f.logger.Info(ctx, "Fetched media for %s: %s (%s)", item.ID, asset.Name, asset.MIMEType)
	return asset, nil
}

func (f *implFetcher) downloadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, f.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (f *implFetcher) fetch(ctx context.Context, cancel context.CancelFunc, sess *auth.Session, item model.CatalogItem, ref *url.URL) (model.MediaAsset, error) {
	if isHLSPath(ref) {
		return f.fetchHLS(ctx, cancel, sess, item, ref)
	}

	resp, err := f.get(ctx, sess, ref)
	if err != nil {
		return model.MediaAsset{}, err
	}
	if err := checkResponse(sess, item, resp); err != nil {
		return model.MediaAsset{}, err
	}

	contentType := mediaType(resp)
	switch {
	case hlsTypes[contentType]:
		playlist := resp.Request.URL
		discard(resp)
		return f.fetchHLS(ctx, cancel, sess, item, playlist)
	case isMedia(contentType, resp.Request.URL):
		return streamAsset(item, resp, contentType, cancel), nil
	case isMediaPath(ref):
		discard(resp)
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, fmt.Sprintf("unexpected content type %q for media", contentType), nil))
	}

	// An item page: find the player source and follow it.
	mediaURL, err := resolveSource(resp)
	if err != nil {
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, "resolve media", err))
	}
	if !sess.AllowsHost(mediaURL) {
		return model.MediaAsset{}, offDomain(item, mediaURL)
	}
	f.logger.Debug(ctx, "Resolved media for %s: %s", item.ID, mediaURL)

	if isHLSPath(mediaURL) {
		return f.fetchHLS(ctx, cancel, sess, item, mediaURL)
	}

	resp, err = f.get(ctx, sess, mediaURL)
	if err != nil {
		return model.MediaAsset{}, err
	}
	if err := checkResponse(sess, item, resp); err != nil {
		return model.MediaAsset{}, err
	}
	contentType = mediaType(resp)
	if hlsTypes[contentType] {
		playlist := resp.Request.URL
		discard(resp)
		return f.fetchHLS(ctx, cancel, sess, item, playlist)
	}
	if !isMedia(contentType, resp.Request.URL) {
		discard(resp)
		return model.MediaAsset{}, apperror.Permanent(fetchError(item, fmt.Sprintf("unexpected content type %q for media", contentType), nil))
	}
	return streamAsset(item, resp, contentType, cancel), nil
}

func (f *implFetcher) get(ctx context.Context, sess *auth.Session, u *url.URL) (*http.Response, error) {
	target := u.String()
	return sess.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		if f.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", f.cfg.UserAgent)
		}
		return req, nil
	})
}

// checkResponse validates status and the post-redirect URL. It closes the
// body on failure.
func checkResponse(sess *auth.Session, item model.CatalogItem, resp *http.Response) error {
	if !sess.AllowsHost(resp.Request.URL) {
		discard(resp)
		return offDomain(item, resp.Request.URL)
	}
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	status := resp.StatusCode
	discard(resp)
	err := fetchError(item, fmt.Sprintf("HTTP %d from %s", status, resp.Request.URL.Host), nil)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return apperror.Transient(err)
	}
	return apperror.Permanent(err)
}

func resolveSource(resp *http.Response) (*url.URL, error) {
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse item page: %w", err)
	}
	for _, src := range mediaSources {
		raw := strings.TrimSpace(doc.Find(src.selector).First().AttrOr(src.attr, ""))
		if raw == "" {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}
		return resp.Request.URL.ResolveReference(ref), nil
	}
	return nil, fmt.Errorf("no media source on %s", resp.Request.URL.Path)
}

func streamAsset(item model.CatalogItem, resp *http.Response, contentType string, cancel context.CancelFunc) model.MediaAsset {
	name := path.Base(resp.Request.URL.Path)
	if name == "." || name == "/" || name == "" {
		name = item.ID
	}
	return model.MediaAsset{
		ItemID:   item.ID,
		Body:     &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		MIMEType: contentType,
		Name:     name,
		Size:     resp.ContentLength,
	}
}

func (f *implFetcher) classify(ctx context.Context, item model.CatalogItem, err error) error {
	if apperror.AbortsBatch(err) {
		return fetchError(item, "library session", err)
	}
	if ctxErr := apperror.FromContext(ctx, "fetch"); ctxErr != nil {
		return fetchError(item, "", ctxErr)
	}
	if errors.Is(err, apperror.ErrFetch) {
		return err
	}
	if errors.Is(err, auth.ErrOffDomain) {
		return apperror.Permanent(fetchError(item, "redirect", err))
	}
	return apperror.Transient(fetchError(item, "download", err))
}

func mediaType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func isMedia(contentType string, u *url.URL) bool {
	if strings.HasPrefix(contentType, "video/") || strings.HasPrefix(contentType, "audio/") {
		return true
	}
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		return isMediaPath(u)
	}
	return false
}

func isMediaPath(u *url.URL) bool {
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func isHLSPath(u *url.URL) bool {
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

func fetchError(item model.CatalogItem, msg string, err error) error {
	return apperror.Wrap(apperror.ErrFetch, "fetch "+item.ID, msg, err)
}

func offDomain(item model.CatalogItem, u *url.URL) error {
	return apperror.Permanent(fetchError(item, fmt.Sprintf("media host %q is outside the library domain", u.Host), nil))
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// cancelOnClose ends the download context once the body is released.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
