package extract

import (
	"bytes"
	"strings"
)

// DefaultAntiBotPhrases are lowercase markers of challenge pages.
var DefaultAntiBotPhrases = []string{
	"robot check",
	"to discuss automated access",
	"captcha",
	"/errors/validatecaptcha",
	"enter the characters you see below",
}

// Signals reported by AntiBotDetector.
const (
	SignalShortBody = "short-body"
	SignalPhrase    = "phrase"
)

// AntiBotDetector flags 200 responses that are really block or challenge pages.
type AntiBotDetector struct {
	minBodyBytes int
	scanBytes    int
	phrases      [][]byte
}

// NewAntiBotDetector constructs a detector. Bodies shorter than minBodyBytes are
// flagged; phrases are matched case-insensitively within the first scanBytes.
func NewAntiBotDetector(minBodyBytes, scanBytes int, phrases []string) *AntiBotDetector {
	lower := make([][]byte, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(p)))
	}
	return &AntiBotDetector{
		minBodyBytes: minBodyBytes,
		scanBytes:    scanBytes,
		phrases:      lower,
	}
}

// Detect returns the matching signal and true when body looks like a challenge page.
func (d *AntiBotDetector) Detect(body []byte) (string, bool) {
	if d == nil {
		return "", false
	}
	if d.bodyBelowThreshold(body) {
		return SignalShortBody, true
	}
	if phrase, ok := d.containsPhrase(body); ok {
		return SignalPhrase + ":" + phrase, true
	}
	return "", false
}

func (d *AntiBotDetector) bodyBelowThreshold(body []byte) bool {
	return d.minBodyBytes > 0 && len(body) < d.minBodyBytes
}

func (d *AntiBotDetector) containsPhrase(body []byte) (string, bool) {
	if len(body) == 0 || len(d.phrases) == 0 {
		return "", false
	}
	head := body
	if d.scanBytes > 0 && len(head) > d.scanBytes {
		head = head[:d.scanBytes]
	}
	lowerHead := bytes.ToLower(head)
	for _, p := range d.phrases {
		if bytes.Contains(lowerHead, p) {
			return string(p), true
		}
	}
	return "", false
}
