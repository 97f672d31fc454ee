package crawler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// pageURL returns source with its page query parameter set to page.
func pageURL(source string, page string) string {
	u, err := url.Parse(source)
	if err != nil {
		sep := "?"
		if strings.Contains(source, "?") {
			sep = "&"
		}
		return source + sep + "page=" + page
	}
	q := u.Query()
	q.Set("page", page)
	u.RawQuery = q.Encode()
	return u.String()
}

func numberedPageURL(source string, page int) string {
	return pageURL(source, strconv.Itoa(page))
}

// paginationHeaders are sent with every follow-up listing page request.
func paginationHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7"},
		"Cache-Control":   {"no-cache"},
		"Pragma":          {"no-cache"},
	}
}
