package scraper

import (
	"net/http"
	"strings"
)

// BlockType identifies the anti-bot wall a site answered with
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockIncapsula  BlockType = "incapsula"
)

// DetectBlock inspects a response for challenge pages. A blocked page is a
// network failure, never an empty extraction.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp != nil && (resp.StatusCode == 403 || resp.StatusCode == 503) {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	// Only look at the head of the document; real pages mention captcha in footers
	head := body
	if len(head) > 8192 {
		head = head[:8192]
	}
	lower := strings.ToLower(string(head))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") {
		return true, BlockCloudflare
	}
	if strings.Contains(lower, "_incapsula_resource") || strings.Contains(lower, "incapsula incident") {
		return true, BlockIncapsula
	}
	if strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "verify you are human") {
		return true, BlockCaptcha
	}
	return false, BlockNone
}
