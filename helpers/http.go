package helpers

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// BrowserHeaders returns the headers a desktop browser sends when navigating from the
// marketplace landing page. Servers may answer 401 or a degraded page without them.
func BrowserHeaders(userAgent, referer string) map[string]string {
	headers := map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9,es;q=0.8",
		"Cache-Control":             "max-age=0",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
	}
	if referer != "" {
		headers["Referer"] = referer
	}
	return headers
}

// DecodeUTF8 converts a response body to UTF-8 using the Content-Type header and
// the body content to determine the source encoding.
func DecodeUTF8(body []byte, contentType string) (io.Reader, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)

	// If already UTF-8, return as is
	if name == "utf-8" || name == "UTF-8" {
		return bytes.NewReader(body), nil
	}

	utf8Reader := encoding.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return nil, fmt.Errorf("failed to read converted UTF-8 body: %w", err)
	}

	return &buf, nil
}
