package extract

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/pricewatch/internal/fetch"
	"github.com/pricewatch/pricewatch/internal/models"
)

// Observation is the structured outcome of running the pipeline over one
// fetched document. Price fields are minor currency units; nil means the
// field was not found.
type Observation struct {
	Price      *int64
	OldPrice   *int64
	CardPrice  *int64
	InStock    bool
	RawCapture string
	ErrorCode  string
}

// outOfStockMarkers short-circuit the whole pipeline: a sold-out page has
// no price to look for.
var outOfStockMarkers = []string{
	"Нет в наличии",
	"Товар закончился",
	"webOutOfStock",
}

// Candidate key names per field, in priority order. The first payload/key
// match wins per field; later matches are ignored.
var (
	priceKeys    = []string{"price", "finalPrice", "salePrice"}
	oldPriceKeys = []string{"originalPrice", "basePrice", "oldPrice"}
	cardKeys     = []string{"cardPrice", "ozonCardPrice"}
)

// Labeled text patterns for the raw-HTML scan, same priority order as the
// payload keys. Text-matched prices are whole-currency strings, so the
// magnitude heuristic does not apply: always multiply by 100.
var (
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"price"\s*:\s*"?(\d+)"?`),
		regexp.MustCompile(`"finalPrice"\s*:\s*"?(\d+)"?`),
		regexp.MustCompile(`"salePrice"\s*:\s*"?(\d+)"?`),
	}
	oldPricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"originalPrice"\s*:\s*"?(\d+)"?`),
		regexp.MustCompile(`"basePrice"\s*:\s*"?(\d+)"?`),
		regexp.MustCompile(`"oldPrice"\s*:\s*"?(\d+)"?`),
	}
	cardPricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"cardPrice"\s*:\s*"?(\d+)"?`),
		regexp.MustCompile(`"ozonCardPrice"\s*:\s*"?(\d+)"?`),
	}
)

// layoutSelectors are tried in order during the rendered-layout scan.
var layoutSelectors = []string{
	"[data-widget='webPrice'] span",
	"[data-widget='webSale'] span",
	"span",
}

// Pipeline turns a raw document into a price observation through three
// fallback stages: structured payloads, labeled text patterns, rendered
// layout. It performs no I/O and never fails; a missing price is reported
// through ErrorCode.
type Pipeline struct {
	logger *slog.Logger
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	return &Pipeline{logger: logger.With("component", "extractor")}
}

func (p *Pipeline) Run(doc *fetch.RawDocument) Observation {
	obs := Observation{InStock: true}

	if isOutOfStock(doc.HTML) {
		obs.InStock = false
		return obs
	}

	source := ""

	if p.scanPayloads(doc.Payloads, &obs) {
		source = "payload"
	} else if p.scanPatterns(doc.HTML, &obs) {
		source = "pattern"
	} else if p.scanLayout(doc.HTML, &obs) {
		source = "layout"
	}

	if obs.Price == nil {
		obs.ErrorCode = models.ErrCodePriceNotFound
		return obs
	}

	obs.RawCapture = captureJSON(source, &obs)
	return obs
}

func isOutOfStock(html string) bool {
	for _, marker := range outOfStockMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// scanPayloads fills the observation from captured structured payloads.
// Each field keeps the first match across payloads in key-priority order;
// the walk stops early once all three fields are filled.
func (p *Pipeline) scanPayloads(payloads [][]byte, obs *Observation) bool {
	for _, raw := range payloads {
		root, err := parsePayload(raw)
		if err != nil {
			continue
		}

		fillFromTree(root, priceKeys, &obs.Price)
		fillFromTree(root, oldPriceKeys, &obs.OldPrice)
		fillFromTree(root, cardKeys, &obs.CardPrice)

		if obs.Price != nil && obs.OldPrice != nil && obs.CardPrice != nil {
			break
		}
	}
	return obs.Price != nil
}

func fillFromTree(root *node, keys []string, dst **int64) {
	if *dst != nil {
		return
	}
	for _, key := range keys {
		if found, ok := findKey(root, key, 0); ok {
			if v, ok := normalizeScalar(found); ok {
				*dst = &v
				return
			}
		}
	}
}

// scanPatterns runs the labeled regex scan over raw HTML. Only invoked
// when the payload stage found no price.
func (p *Pipeline) scanPatterns(html string, obs *Observation) bool {
	fillFromPatterns(html, pricePatterns, &obs.Price)
	fillFromPatterns(html, oldPricePatterns, &obs.OldPrice)
	fillFromPatterns(html, cardPricePatterns, &obs.CardPrice)
	return obs.Price != nil
}

func fillFromPatterns(html string, patterns []*regexp.Regexp, dst **int64) {
	if *dst != nil {
		return
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		v *= 100 // rubles to kopecks
		*dst = &v
		return
	}
}

// scanLayout reads visible ruble-labeled fragments from the rendered page.
// The first plausible numeric fragment becomes the price; a later, larger
// fragment becomes the old price.
func (p *Pipeline) scanLayout(html string, obs *Observation) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	var values []int64
	for _, selector := range layoutSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if !strings.Contains(text, "₽") {
				return
			}
			digits := digitsOnly(text)
			if digits == "" || len(digits) > 9 {
				return
			}
			v, err := strconv.ParseInt(digits, 10, 64)
			if err != nil || v == 0 {
				return
			}
			values = append(values, v*100)
		})
		if len(values) > 0 {
			break
		}
	}

	if len(values) == 0 {
		return false
	}

	price := values[0]
	obs.Price = &price
	for _, v := range values[1:] {
		if v > price {
			old := v
			obs.OldPrice = &old
			break
		}
	}
	return true
}

func captureJSON(source string, obs *Observation) string {
	capture := struct {
		Source    string `json:"source"`
		Price     *int64 `json:"price"`
		OldPrice  *int64 `json:"old_price"`
		CardPrice *int64 `json:"card_price"`
	}{source, obs.Price, obs.OldPrice, obs.CardPrice}

	data, err := json.Marshal(capture)
	if err != nil {
		return ""
	}
	return string(data)
}
