package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

func (s *implSearcher) Search(ctx context.Context, sess *auth.Session, query string) ([]model.CatalogItem, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []model.CatalogItem{}, nil
	}
	if sess == nil {
		return nil, apperror.Wrap(apperror.ErrSearch, "search", "no library session", nil)
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	pageURL, err := s.firstPage(sess.BaseURL(), query)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrSearch, "search", fmt.Sprintf("query %q", query), err)
	}

	items := []model.CatalogItem{}
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	dropped := 0
	pages := 0

	for pageURL != nil && pages < s.cfg.MaxPages {
		if visited[pageURL.String()] {
			break
		}
		visited[pageURL.String()] = true
		pages++

		doc, finalURL, err := s.fetchPage(ctx, sess, pageURL)
		if err != nil {
			return nil, s.searchError(ctx, query, err)
		}

		for _, item := range s.parseCards(ctx, doc, finalURL) {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			if !matchesAll(item.Title, terms) {
				dropped++
				continue
			}
			items = append(items, item)
			if s.cfg.MaxResults > 0 && len(items) >= s.cfg.MaxResults {
				s.logger.Info(ctx, "Search %q: %d items (capped, %d pages)", query, len(items), pages)
				return items, nil
			}
		}

		pageURL = s.nextPage(ctx, doc, finalURL, sess)
		if pageURL != nil && pages >= s.cfg.MaxPages {
			s.logger.Warn(ctx, "Search %q: stopping after %d pages", query, pages)
		}
	}

	s.logger.Info(ctx, "Search %q: %d items from %d pages (%d without a title match)", query, len(items), pages, dropped)
	return items, nil
}

func (s *implSearcher) firstPage(base *url.URL, query string) (*url.URL, error) {
	ref, err := url.Parse(s.cfg.SearchPath)
	if err != nil {
		return nil, fmt.Errorf("parse search path: %w", err)
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	q.Set("q", strings.TrimSpace(query))
	q.Set("page", "1")
	u.RawQuery = q.Encode()
	return u, nil
}

func (s *implSearcher) fetchPage(ctx context.Context, sess *auth.Session, pageURL *url.URL) (*goquery.Document, *url.URL, error) {
	target := pageURL.String()
	resp, err := sess.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html")
		return req, nil
	})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search page returned HTTP %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			err = apperror.Transient(err)
		}
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse search page: %w", err)
	}
	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return doc, finalURL, nil
}

func (s *implSearcher) parseCards(ctx context.Context, doc *goquery.Document, pageURL *url.URL) []model.CatalogItem {
	sel := s.cfg.Selectors
	var items []model.CatalogItem

	doc.Find(sel.Result).Each(func(i int, card *goquery.Selection) {
		link := card.Find(sel.Link).First()
		if link.Length() == 0 && card.Is(sel.Link) {
			link = card
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))

		title := collapse(card.Find(sel.Title).First().Text())
		if title == "" {
			title = collapse(link.Text())
		}

		var mediaRef string
		if href != "" {
			if ref, err := url.Parse(href); err == nil {
				mediaRef = pageURL.ResolveReference(ref).String()
			}
		}

		id := strings.TrimSpace(card.AttrOr("data-id", ""))
		if id == "" && mediaRef != "" {
			id = lastSegment(mediaRef)
		}
		if id == "" || title == "" {
			s.logger.Debug(ctx, "Skipping search card %d without id or title", i)
			return
		}

		duration := parseDuration(card.AttrOr("data-duration", ""))
		if duration == 0 {
			duration = parseDuration(card.Find(sel.Duration).First().Text())
		}

		items = append(items, model.CatalogItem{
			ID:       id,
			Title:    title,
			MediaRef: mediaRef,
			Duration: duration,
			Year:     collapse(card.Find(sel.Year).First().Text()),
			Speaker:  collapse(card.Find(sel.Speaker).First().Text()),
		})
	})
	return items
}

func (s *implSearcher) nextPage(ctx context.Context, doc *goquery.Document, pageURL *url.URL, sess *auth.Session) *url.URL {
	href := strings.TrimSpace(doc.Find(s.cfg.Selectors.Next).First().AttrOr("href", ""))
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	next := pageURL.ResolveReference(ref)
	if !sess.AllowsHost(next) {
		s.logger.Warn(ctx, "Ignoring pagination link outside the library: %s", next.Host)
		return nil
	}
	return next
}

func (s *implSearcher) searchError(ctx context.Context, query string, err error) error {
	detail := fmt.Sprintf("query %q", query)
	if ctxErr := apperror.FromContext(ctx, "search"); ctxErr != nil && !errors.Is(err, apperror.ErrAuth) {
		return apperror.Wrap(apperror.ErrSearch, "search", detail, ctxErr)
	}
	return apperror.Wrap(apperror.ErrSearch, "search", detail, err)
}

func lastSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
