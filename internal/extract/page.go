// Package extract pulls title, price and currency out of product pages and
// recognizes anti-bot challenge pages.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrNoPrice is returned when no price selector matched any text.
	ErrNoPrice = errors.New("no price found on page")
	// ErrNoTitle is returned when neither the title element nor og:title is present.
	ErrNoTitle = errors.New("no title found on page")
)

// DefaultPriceSelectors lists price locations in priority order.
var DefaultPriceSelectors = []string{
	"#corePriceDisplay_desktop_feature_div .a-price .a-offscreen",
	"#corePrice_feature_div .a-price .a-offscreen",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	".a-price .a-offscreen",
	".a-price .a-price-whole",
}

const (
	wholeSelector    = ".a-price .a-price-whole"
	fractionSelector = ".a-price .a-price-fraction"
	titleSelector    = "#productTitle"
	ogTitleSelector  = `meta[property="og:title"]`
)

var currencyPattern = regexp.MustCompile(`(?i)(TL|₺|USD|\$|EUR|€|GBP|£)`)

// Result is the data pulled from one product page.
type Result struct {
	Title     string
	PriceText string
	Price     float64
	Currency  string
}

// Extractor reads product pages with a fixed selector chain.
type Extractor struct {
	selectors []string
}

// New builds an Extractor. An empty selector list falls back to DefaultPriceSelectors.
func New(selectors []string) *Extractor {
	cleaned := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			cleaned = append(cleaned, sel)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPriceSelectors...)
	}
	return &Extractor{selectors: cleaned}
}

// Extract parses body and returns the product data, or ErrNoPrice, ErrNoTitle
// or ErrUnparseable describing what was missing.
func (e *Extractor) Extract(body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	priceText := e.priceText(doc)
	if priceText == "" {
		return Result{}, ErrNoPrice
	}
	title := pageTitle(doc)
	if title == "" {
		return Result{}, ErrNoTitle
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Title:     title,
		PriceText: priceText,
		Price:     price,
		Currency:  Currency(priceText),
	}, nil
}

func (e *Extractor) priceText(doc *goquery.Document) string {
	for _, sel := range e.selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if strings.Contains(sel, "a-price-whole") {
			if text := splitPrice(doc); text != "" {
				return text
			}
			continue
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

// splitPrice rebuilds a price rendered as separate whole and fraction nodes.
// The whole part usually carries the decimal separator as its last character.
func splitPrice(doc *goquery.Document) string {
	whole := strings.TrimSpace(doc.Find(wholeSelector).First().Text())
	frac := strings.TrimSpace(doc.Find(fractionSelector).First().Text())
	if whole == "" {
		return ""
	}
	if frac == "" {
		return whole
	}
	sep := ","
	if last := whole[len(whole)-1]; last == ',' || last == '.' {
		sep = string(last)
		whole = whole[:len(whole)-1]
	}
	return whole + sep + frac
}

func pageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find(titleSelector).First().Text()); title != "" {
		return title
	}
	content, _ := doc.Find(ogTitleSelector).First().Attr("content")
	return strings.TrimSpace(content)
}

// Currency returns the normalized currency code found in text, or "".
func Currency(text string) string {
	match := currencyPattern.FindString(text)
	if match == "" {
		return ""
	}
	if match == "₺" {
		return "TL"
	}
	return strings.ToUpper(match)
}
