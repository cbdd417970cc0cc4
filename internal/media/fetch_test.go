package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
	"github.com/nguyentantai21042004/cirse-notes/internal/testsupport"
)

var clip = bytes.Repeat([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, 64)

// fakeExecutor stands in for ffmpeg: it writes output to the last argument.
type fakeExecutor struct {
	mu     sync.Mutex
	calls  [][]string
	output []byte
	err    error
}

func (e *fakeExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string{name}, args...))
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	return "", os.WriteFile(args[len(args)-1], e.output, 0o644)
}

func (e *fakeExecutor) ExecuteInDir(ctx context.Context, dir string, name string, args ...string) (string, error) {
	return e.Execute(ctx, name, args...)
}

func newSession(t *testing.T, lib *testsupport.Library, allowed ...string) *auth.Session {
	t.Helper()
	sess, err := auth.Login(context.Background(), auth.Config{
		LoginURL:     lib.LoginURL(),
		BaseURL:      lib.URL(),
		AllowedHosts: allowed,
		TTL:          time.Hour,
	}, model.Credentials{Email: testsupport.LibraryEmail, Password: testsupport.LibraryPassword}, logger.Nop())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return sess
}

func TestFetch(t *testing.T) {
	lib := testsupport.NewLibrary(t,
		testsupport.Lecture{ID: "101", Title: "PAE", Media: clip},
		testsupport.Lecture{ID: "102", Title: "Audio only", Media: clip, MediaType: "audio/mpeg", MediaURL: "/media/102.mp3"},
	)
	sess := newSession(t, lib)
	f := New(Config{}, &fakeExecutor{}, logger.Nop())

	tests := []struct {
		name     string
		item     model.CatalogItem
		wantMIME string
		wantName string
	}{
		{
			name:     "item page resolves video source",
			item:     model.CatalogItem{ID: "101", MediaRef: lib.URL() + "/lecture/101"},
			wantMIME: "video/mp4",
			wantName: "101.mp4",
		},
		{
			name:     "direct media reference",
			item:     model.CatalogItem{ID: "101", MediaRef: lib.URL() + "/media/101.mp4"},
			wantMIME: "video/mp4",
			wantName: "101.mp4",
		},
		{
			name:     "audio source",
			item:     model.CatalogItem{ID: "102", MediaRef: lib.URL() + "/lecture/102"},
			wantMIME: "audio/mpeg",
			wantName: "102.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := f.Fetch(context.Background(), sess, tt.item)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			defer asset.Close()

			body, err := io.ReadAll(asset.Body)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(body, clip) {
				t.Errorf("body = %d bytes, want %d", len(body), len(clip))
			}
			if asset.ItemID != tt.item.ID {
				t.Errorf("ItemID = %q, want %q", asset.ItemID, tt.item.ID)
			}
			if asset.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %q, want %q", asset.MIMEType, tt.wantMIME)
			}
			if asset.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", asset.Name, tt.wantName)
			}
			if asset.Size != int64(len(clip)) {
				t.Errorf("Size = %d, want %d", asset.Size, len(clip))
			}
		})
	}
}

func TestFetchRejects(t *testing.T) {
	lib := testsupport.NewLibrary(t,
		testsupport.Lecture{ID: "201", Title: "Offsite", MediaURL: "https://cdn.attacker.example/201.mp4"},
		testsupport.Lecture{ID: "202", Title: "Not media", Media: []byte("<html></html>"), MediaType: "text/html"},
		testsupport.Lecture{ID: "203", Title: "No source", MediaURL: ""},
	)
	sess := newSession(t, lib)
	f := New(Config{}, &fakeExecutor{}, logger.Nop())

	tests := []struct {
		name    string
		ref     string
		wantMsg string
	}{
		{name: "reference outside the domain", ref: "https://evil.example.net/lecture/1", wantMsg: "outside the library domain"},
		{name: "resolved source outside the domain", ref: lib.URL() + "/lecture/201", wantMsg: "outside the library domain"},
		{name: "html served as media", ref: lib.URL() + "/lecture/202", wantMsg: "unexpected content type"},
		{name: "missing item", ref: lib.URL() + "/lecture/999", wantMsg: "HTTP 404"},
		{name: "relative reference", ref: "/lecture/201", wantMsg: "invalid media reference"},
		{name: "non-http scheme", ref: "file:///etc/passwd", wantMsg: "outside the library domain"},
		{name: "redirect outside the domain", ref: lib.URL() + "/redirect?to=" + url.QueryEscape("http://localhost:1/201.mp4"), wantMsg: "outside the library domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), sess, model.CatalogItem{ID: "x", MediaRef: tt.ref})
			if !errors.Is(err, apperror.ErrFetch) {
				t.Fatalf("Fetch() error = %v, want ErrFetch", err)
			}
			if apperror.Retryable(err) {
				t.Errorf("Fetch() error should be permanent: %v", err)
			}
			if apperror.AbortsBatch(err) {
				t.Errorf("Fetch() error should only fail the item: %v", err)
			}
			if errors.Is(err, apperror.ErrCancelled) || apperror.Reason(err) == "cancelled" {
				t.Errorf("Fetch() error reported as cancelled: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Fetch() error = %q, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestFetchAfterSessionExpiry(t *testing.T) {
	lib := testsupport.NewLibrary(t, testsupport.Lecture{ID: "301", Media: clip})
	sess := newSession(t, lib)
	lib.ExpireSessions()

	asset, err := New(Config{}, nil, nil).Fetch(context.Background(), sess, model.CatalogItem{ID: "301", MediaRef: lib.URL() + "/lecture/301"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	asset.Close()
	if lib.Logins() != 2 {
		t.Errorf("logins = %d, want 2", lib.Logins())
	}
	if lib.MediaHits("301") != 1 {
		t.Errorf("media hits = %d, want 1", lib.MediaHits("301"))
	}
}

func TestFetchSessionRejected(t *testing.T) {
	lib := testsupport.NewLibrary(t, testsupport.Lecture{ID: "302", Media: clip})
	sess := newSession(t, lib)
	lib.SetRejectAll(true)

	_, err := New(Config{}, nil, nil).Fetch(context.Background(), sess, model.CatalogItem{ID: "302", MediaRef: lib.URL() + "/lecture/302"})
	if !errors.Is(err, apperror.ErrAuth) || !errors.Is(err, apperror.ErrFetch) {
		t.Fatalf("Fetch() error = %v, want ErrFetch wrapping ErrAuth", err)
	}
	if !apperror.AbortsBatch(err) {
		t.Error("a rejected session must abort the batch")
	}
}

func TestFetchHLS(t *testing.T) {
	lib := testsupport.NewLibrary(t,
		testsupport.Lecture{
			ID:        "401",
			Media:     []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n"),
			MediaType: "application/vnd.apple.mpegurl",
			MediaURL:  "/media/401.m3u8",
		},
		testsupport.Lecture{
			ID:        "low",
			Media:     []byte("#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:10,\nseg1.ts\n#EXT-X-ENDLIST\n"),
			MediaType: "application/vnd.apple.mpegurl",
		},
	)
	sess := newSession(t, lib)
	exec := &fakeExecutor{output: []byte("fake-aac")}
	tmp := t.TempDir()
	f := New(Config{FFmpegPath: "/opt/ffmpeg", TempDir: tmp, UserAgent: "cirse-notes/test"}, exec, logger.Nop())

	asset, err := f.Fetch(context.Background(), sess, model.CatalogItem{ID: "401", MediaRef: lib.URL() + "/lecture/401"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	body, err := io.ReadAll(asset.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "fake-aac" {
		t.Errorf("body = %q", body)
	}
	if asset.MIMEType != "audio/mp4" || asset.Size != int64(len("fake-aac")) {
		t.Errorf("asset = %+v", asset)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("ffmpeg calls = %d, want 1", len(exec.calls))
	}
	call := strings.Join(exec.calls[0], " ")
	for _, want := range []string{"/opt/ffmpeg", "Cookie: sid=", "User-Agent: cirse-notes/test", lib.URL() + "/media/401.m3u8"} {
		if !strings.Contains(call, want) {
			t.Errorf("ffmpeg call %q missing %q", call, want)
		}
	}
	if strings.Contains(call, testsupport.LibraryPassword) {
		t.Error("password passed to ffmpeg")
	}
	if lib.MediaHits("low") != 1 {
		t.Errorf("variant playlist checked %d times, want 1", lib.MediaHits("low"))
	}

	files, _ := filepath.Glob(filepath.Join(tmp, "hls-*"))
	if len(files) != 1 {
		t.Fatalf("temp files = %v, want 1", files)
	}
	if err := asset.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(files[0]); !os.IsNotExist(err) {
		t.Errorf("temp file %s survived Close", files[0])
	}
}

func TestFetchHLSRejectsOffDomainEntries(t *testing.T) {
	const hlsType = "application/vnd.apple.mpegurl"
	lib := testsupport.NewLibrary(t,
		testsupport.Lecture{ID: "410", MediaType: hlsType,
			Media: []byte("#EXTM3U\n#EXTINF:10,\nhttps://cdn.attacker.example/seg1.ts\n")},
		testsupport.Lecture{ID: "411", MediaType: hlsType,
			Media: []byte("#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://keys.attacker.example/k\"\n#EXTINF:10,\nseg1.ts\n")},
		testsupport.Lecture{ID: "412", MediaType: hlsType,
			Media: []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n412low.m3u8\n")},
		testsupport.Lecture{ID: "412low", MediaType: hlsType,
			Media: []byte("#EXTM3U\n#EXTINF:10,\n//cdn.attacker.example/seg1.ts\n")},
	)
	sess := newSession(t, lib)

	tests := []struct {
		name string
		id   string
	}{
		{name: "segment", id: "410"},
		{name: "encryption key", id: "411"},
		{name: "segment of a variant playlist", id: "412"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{output: []byte("fake-aac")}
			f := New(Config{TempDir: t.TempDir()}, exec, logger.Nop())

			_, err := f.Fetch(context.Background(), sess, model.CatalogItem{ID: tt.id, MediaRef: lib.URL() + "/media/" + tt.id + ".m3u8"})
			if !errors.Is(err, apperror.ErrFetch) || apperror.Retryable(err) {
				t.Fatalf("Fetch() error = %v, want permanent ErrFetch", err)
			}
			if !strings.Contains(err.Error(), "outside the library domain") {
				t.Errorf("Fetch() error = %q", err)
			}
			if len(exec.calls) != 0 {
				t.Errorf("ffmpeg ran with the session cookie: %v", exec.calls)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	lib := testsupport.NewLibrary(t, testsupport.Lecture{ID: "501", Media: clip, Delay: 5 * time.Second})
	sess := newSession(t, lib)
	f := New(Config{Timeout: 50 * time.Millisecond}, &fakeExecutor{}, logger.Nop())

	start := time.Now()
	_, err := f.Fetch(context.Background(), sess, model.CatalogItem{ID: "501", MediaRef: lib.URL() + "/lecture/501"})
	if !errors.Is(err, apperror.ErrFetch) || !errors.Is(err, apperror.ErrTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrFetch+ErrTimeout", err)
	}
	if !apperror.Retryable(err) {
		t.Errorf("a timed out download should be retryable: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch() took %s, the timeout was not applied", elapsed)
	}
}

func TestFetchHLSFailureCleansUp(t *testing.T) {
	lib := testsupport.NewLibrary(t, testsupport.Lecture{
		ID:        "402",
		Media:     []byte("#EXTM3U\n"),
		MediaType: "application/vnd.apple.mpegurl",
	})
	sess := newSession(t, lib)
	tmp := t.TempDir()
	f := New(Config{TempDir: tmp}, &fakeExecutor{err: errors.New("ffmpeg: 403 Forbidden")}, logger.Nop())

	// Served with an HLS content type from a .mp4 path.
	_, err := f.Fetch(context.Background(), sess, model.CatalogItem{ID: "402", MediaRef: lib.URL() + "/media/402.mp4"})
	if !errors.Is(err, apperror.ErrFetch) {
		t.Fatalf("Fetch() error = %v, want ErrFetch", err)
	}
	if files, _ := filepath.Glob(filepath.Join(tmp, "hls-*")); len(files) != 0 {
		t.Errorf("temp files left behind: %v", files)
	}
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		t.Fatal(err)
	}

	asset, err := Local{}.Fetch(context.Background(), nil, model.CatalogItem{ID: "talk", MediaRef: path})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer asset.Close()
	if asset.MIMEType != "audio/mpeg" || asset.Name != "talk.mp3" || asset.Size != int64(len(clip)) {
		t.Errorf("asset = %+v", asset)
	}

	_, err = Local{}.Fetch(context.Background(), nil, model.CatalogItem{ID: "gone", MediaRef: filepath.Join(dir, "gone.mp3")})
	if !errors.Is(err, apperror.ErrFetch) || apperror.Retryable(err) {
		t.Errorf("missing file error = %v, want permanent ErrFetch", err)
	}
}

func TestLocalItem(t *testing.T) {
	item := LocalItem(filepath.Join("drop", "PAE_update-2024.mp4"))
	if item.ID != "local:PAE_update-2024.mp4" {
		t.Errorf("ID = %q", item.ID)
	}
	if item.Title != "PAE update 2024" {
		t.Errorf("Title = %q", item.Title)
	}
	if !filepath.IsAbs(item.MediaRef) {
		t.Errorf("MediaRef = %q, want an absolute path", item.MediaRef)
	}

	tests := map[string]bool{
		"talk.MP3":   true,
		"talk.webm":  true,
		"notes.txt":  false,
		"README":     false,
		".talk.mp4~": false,
	}
	for path, want := range tests {
		if got := IsMediaFile(path); got != want {
			t.Errorf("IsMediaFile(%q) = %v, want %v", path, got, want)
		}
	}
}
