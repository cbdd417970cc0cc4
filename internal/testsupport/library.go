// Package testsupport provides an in-process fake of the lecture library
// site for package tests.
package testsupport

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	LibraryEmail    = "doctor@example.org"
	LibraryPassword = "correct horse battery staple"
	csrfToken       = "csrf-5f1b"
	sessionCookie   = "sid"
)

// Lecture is one entry served by the fake library.
type Lecture struct {
	ID        string
	Title     string
	Year      string
	Speaker   string
	Media     []byte
	MediaType string
	// MediaURL overrides the media source on the lecture page.
	MediaURL string
	// Delay holds back the media response.
	Delay time.Duration
}

// Library is a fake library site with a form login, paginated search,
// lecture pages, media downloads and an open redirect (/redirect?to=).
type Library struct {
	Server *httptest.Server

	mu               sync.Mutex
	pageSize         int
	redirectOnExpiry bool
	rejectAll        bool
	lectures         []Lecture
	sessions         map[string]bool
	nextSession      int
	logins           int
	searchHits       int
	mediaHits        map[string]int
}

// NewLibrary starts the fake site; it is closed when the test ends.
func NewLibrary(t testing.TB, lectures ...Lecture) *Library {
	t.Helper()
	l := &Library{
		pageSize:  2,
		lectures:  lectures,
		sessions:  map[string]bool{},
		mediaHits: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", l.loginPage)
	mux.HandleFunc("POST /login", l.loginSubmit)
	mux.HandleFunc("GET /{$}", l.protected(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><h1>Welcome back</h1></body></html>")
	}))
	mux.HandleFunc("GET /search", l.protected(l.search))
	mux.HandleFunc("GET /lecture/{id}", l.protected(l.lecturePage))
	mux.HandleFunc("GET /media/{file}", l.protected(l.media))
	mux.HandleFunc("GET /redirect", l.protected(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Query().Get("to"), http.StatusFound)
	}))

	l.Server = httptest.NewServer(mux)
	t.Cleanup(l.Server.Close)
	return l
}

// URL returns the site root.
func (l *Library) URL() string { return l.Server.URL }

// LoginURL returns the login page URL.
func (l *Library) LoginURL() string { return l.Server.URL + "/login" }

// Host returns the host name (without port) of the site.
func (l *Library) Host() string {
	u, _ := url.Parse(l.Server.URL)
	return u.Hostname()
}

// SetPageSize sets the number of results per search page.
func (l *Library) SetPageSize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pageSize = n
}

// SetRedirectOnExpiry bounces expired requests to the login page instead of
// answering 401.
func (l *Library) SetRedirectOnExpiry(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redirectOnExpiry = on
}

// SetRejectAll answers 401 to every protected request except the landing
// page, even with a valid session.
func (l *Library) SetRejectAll(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectAll = on
}

// ExpireSessions invalidates every issued session cookie.
func (l *Library) ExpireSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = map[string]bool{}
}

// Logins returns the number of successful logins.
func (l *Library) Logins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logins
}

// SearchHits returns the number of search page requests served.
func (l *Library) SearchHits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.searchHits
}

// MediaHits returns how often the media of lecture id was downloaded.
func (l *Library) MediaHits(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mediaHits[id]
}

func (l *Library) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body>
<form class="search"><input name="q"></form>
<form method="post" action="/login">
  <input type="hidden" name="_token" value="%s">
  <input type="email" name="email">
  <input type="password" name="pass">
  <input type="checkbox" name="remember" checked>
  <button type="submit">Sign in</button>
</form></body></html>`, csrfToken)
}

func (l *Library) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("_token") != csrfToken {
		http.Error(w, "csrf mismatch", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("email") != LibraryEmail || r.PostForm.Get("pass") != LibraryPassword {
		l.loginPage(w, r)
		return
	}

	l.mu.Lock()
	l.nextSession++
	l.logins++
	sid := "s" + strconv.Itoa(l.nextSession)
	l.sessions[sid] = true
	l.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sid, Path: "/"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (l *Library) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		valid := false
		if c, err := r.Cookie(sessionCookie); err == nil {
			valid = l.sessions[c.Value]
		}
		reject := l.rejectAll && r.URL.Path != "/"
		redirect := l.redirectOnExpiry
		l.mu.Unlock()

		if !valid || reject {
			if redirect {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (l *Library) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	l.mu.Lock()
	l.searchHits++
	var hits []Lecture
	for _, lec := range l.lectures {
		// Like a real site, match on any term in title or speaker.
		haystack := strings.ToLower(lec.Title + " " + lec.Speaker)
		for _, term := range strings.Fields(q) {
			if strings.Contains(haystack, term) {
				hits = append(hits, lec)
				break
			}
		}
	}
	size := l.pageSize
	l.mu.Unlock()

	start := (page - 1) * size
	end := start + size
	if start > len(hits) {
		start = len(hits)
	}
	if end > len(hits) {
		end = len(hits)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	b.WriteString("<html><body><div class=\"results\">")
	for _, lec := range hits[start:end] {
		fmt.Fprintf(&b, `<div class="search-result" data-id="%s">
  <a href="/lecture/%s"><span class="result-title"> %s </span></a>
  <span class="result-year">%s</span>
  <span class="result-speaker">%s</span>
</div>`, html.EscapeString(lec.ID), url.PathEscape(lec.ID), html.EscapeString(lec.Title),
			html.EscapeString(lec.Year), html.EscapeString(lec.Speaker))
	}
	b.WriteString("</div>")
	if end < len(hits) {
		fmt.Fprintf(&b, `<nav class="pagination"><a rel="next" href="/search?q=%s&page=%d">Next</a></nav>`,
			url.QueryEscape(q), page+1)
	}
	b.WriteString("</body></html>")
	fmt.Fprint(w, b.String())
}

func (l *Library) lecturePage(w http.ResponseWriter, r *http.Request) {
	lec, ok := l.find(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	src := lec.MediaURL
	if src == "" {
		src = "/media/" + url.PathEscape(lec.ID) + ".mp4"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body><h1>%s</h1>
<video controls><source src="%s" type="video/mp4"></video>
</body></html>`, html.EscapeString(lec.Title), html.EscapeString(src))
}

func (l *Library) media(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id := strings.TrimSuffix(file, path.Ext(file))
	lec, ok := l.find(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	l.mu.Lock()
	l.mediaHits[id]++
	l.mu.Unlock()

	if lec.Delay > 0 {
		select {
		case <-time.After(lec.Delay):
		case <-r.Context().Done():
			return
		}
	}

	mediaType := lec.MediaType
	if mediaType == "" {
		mediaType = "video/mp4"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(lec.Media)))
	_, _ = w.Write(lec.Media)
}

func (l *Library) find(id string) (Lecture, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lec := range l.lectures {
		if lec.ID == id {
			return lec, true
		}
	}
	return Lecture{}, false
}
