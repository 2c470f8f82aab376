package tasks

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrInvalidURL marks a URL that cannot be submitted for download.
var ErrInvalidURL = errors.New("invalid url")

// ValidateURL accepts only absolute http/https URLs with a non-empty host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w %q: missing host", ErrInvalidURL, raw)
	}
	return nil
}

// ReadURLs reads one URL per line. Blank lines and lines starting with '#'
// are ignored; lines that fail ValidateURL are returned in skipped.
func ReadURLs(r io.Reader) (urls, skipped []string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if ValidateURL(line) != nil {
			skipped = append(skipped, line)
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, skipped, nil
}
