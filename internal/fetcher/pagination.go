package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"merakihec/internal/data"
)

const cursorParam = "startingAfter"

var cursorPattern = regexp.MustCompile(`startingAfter=([^&>;\s]+)`)

// Walker follows Link header cursors to enumerate a paged collection.
type Walker struct {
	doer      Doer
	validator *Validator
	logger    *slog.Logger
}

func NewWalker(doer Doer, validator *Validator, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{doer: doer, validator: validator, logger: logger}
}

// Walk GETs baseURL page by page and returns the records of every page in
// order. A page that fails validation stops the walk; the records gathered so
// far are returned together with that page's result.
func (w *Walker) Walk(ctx context.Context, baseURL string, params url.Values, perPage int, giveUp bool) ([]data.Record, Result) {
	var all []data.Record
	cursor := ""
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		q := cloneValues(params)
		if perPage > 0 {
			q.Set("perPage", strconv.Itoa(perPage))
		}
		if cursor != "" {
			q.Set(cursorParam, cursor)
		}

		res := w.doer.Execute(ctx, Request{Method: http.MethodGet, URL: baseURL, Params: q, GiveUp: giveUp})
		recs, vres := w.validator.List(res)
		log := w.logger.With("request_id", res.RequestID, "url", baseURL, "page", page)
		if !vres.OK() {
			log.Warn("Page failed validation. Stopping walk.", "kind", vres.Kind.String(), "error", vres.Err, "records", len(all))
			return all, vres
		}
		all = append(all, recs...)

		next := NextCursor(res.Header)
		if next == "" {
			log.Debug("Didn't find next startingAfter param. Finishing.", "records", len(all))
			return all, vres
		}
		if _, dup := seen[next]; dup {
			log.Warn("Cursor repeated. Stopping walk.", cursorParam, next)
			return all, vres
		}
		seen[next] = struct{}{}
		log.Debug("Found next startingAfter param.", cursorParam, next)
		cursor = next
	}
}

// NextCursor returns the startingAfter token of the rel="next" entry in the
// Link header, or "" when there is no next page.
func NextCursor(h http.Header) string {
	for _, value := range h.Values("Link") {
		for _, link := range splitLinks(value) {
			target, rels := parseLink(link)
			if !hasRel(rels, "next") {
				continue
			}
			if u, err := url.Parse(target); err == nil {
				if tok := u.Query().Get(cursorParam); tok != "" {
					return tok
				}
			}
			if m := cursorPattern.FindStringSubmatch(target); m != nil {
				if tok, err := url.QueryUnescape(m[1]); err == nil {
					return tok
				}
				return m[1]
			}
		}
	}
	return ""
}

// splitLinks splits a Link header value on the commas that separate entries,
// ignoring commas inside <...>.
func splitLinks(value string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range value {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, value[start:i])
				start = i + 1
			}
		}
	}
	return append(out, value[start:])
}

func parseLink(link string) (target string, rels []string) {
	link = strings.TrimSpace(link)
	open := strings.IndexByte(link, '<')
	end := strings.IndexByte(link, '>')
	if open < 0 || end < open {
		return "", nil
	}
	target = link[open+1 : end]
	for _, param := range strings.Split(link[end+1:], ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		rels = append(rels, strings.Fields(strings.Trim(strings.TrimSpace(val), `"`))...)
	}
	return target, rels
}

func hasRel(rels []string, want string) bool {
	for _, r := range rels {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
