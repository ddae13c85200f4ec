package scraper

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	unitsLinkPattern     = regexp.MustCompile(`(?i)floor[-_ ]?plans?|availability|apartments|units|pricing`)
	amenitiesLinkPattern = regexp.MustCompile(`(?i)amenities|features|lifestyle`)
)

// SubPages are the same-site pages worth fetching beyond the home page
type SubPages struct {
	Units     string
	Amenities string
}

// DiscoverSubPages looks for availability and amenity pages linked from the
// home page. Only links on the same host are followed.
func DiscoverSubPages(base string, html []byte) SubPages {
	var found SubPages

	baseURL, err := url.Parse(base)
	if err != nil {
		return found
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return found
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return true
		}

		abs := resolveLink(baseURL, href)
		if abs == "" || abs == baseURL.String() {
			return true
		}

		haystack := href + " " + strings.TrimSpace(s.Text())
		if found.Units == "" && unitsLinkPattern.MatchString(haystack) {
			found.Units = abs
		} else if found.Amenities == "" && amenitiesLinkPattern.MatchString(haystack) {
			found.Amenities = abs
		}
		return found.Units == "" || found.Amenities == ""
	})

	return found
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if !sameHost(abs.Host, base.Host) {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func sameHost(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

// ResolvePath joins a configured profile path onto the site URL
func ResolvePath(base, path string) string {
	if path == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return resolveLink(baseURL, path)
}
