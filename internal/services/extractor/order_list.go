// Package extractor parses the rendered "bought items" order list into records.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
)

const defaultAmount = "0.00"

var (
	orderIDLabel  = regexp.MustCompile(`订单号[:：]`)
	styleImageURL = regexp.MustCompile(`url\(["']?(.*?)["']?\)`)
	whitespace    = regexp.MustCompile(`\s+`)

	priceNoise = strings.NewReplacer("￥", "", "¥", "", "实付款", "", "含运费", "", ":", "", "：", "")
)

// OrderListExtractor turns one rendered list page into records, one per line item
type OrderListExtractor struct {
	selectors common.SelectorConfig
	baseURL   *url.URL
	logger    arbor.ILogger
}

// NewOrderListExtractor creates an extractor. baseURL resolves relative detail links and may be empty.
func NewOrderListExtractor(selectors common.SelectorConfig, baseURL string, logger arbor.ILogger) *OrderListExtractor {
	e := &OrderListExtractor{selectors: selectors, logger: logger}
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			e.baseURL = parsed
		} else {
			logger.Warn().Err(err).Str("base_url", baseURL).Msg("Ignoring invalid base URL for detail links")
		}
	}
	return e
}

// ExtractPage implements interfaces.PageExtractor. An order that fails to parse is logged and skipped.
func (e *OrderListExtractor) ExtractPage(ctx context.Context, html string) []*models.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to parse order list HTML")
		return []*models.Record{}
	}

	records := make([]*models.Record, 0)
	containers := doc.Find(e.selectors.OrderContainer)
	containers.Each(func(i int, container *goquery.Selection) {
		orderRecords, err := e.extractOrder(container)
		if err != nil {
			e.logger.Warn().Err(err).Int("index", i).Msg("Skipping malformed order")
			return
		}
		records = append(records, orderRecords...)
	})

	e.logger.Debug().
		Int("orders", containers.Length()).
		Int("records", len(records)).
		Msg("Extracted order list page")

	return records
}

func (e *OrderListExtractor) extractOrder(container *goquery.Selection) (records []*models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("panic extracting order: %v", r)
		}
	}()

	sel := e.selectors

	orderID := strings.TrimSpace(orderIDLabel.ReplaceAllString(text(container.Find(sel.OrderID).First()), ""))
	orderTime := strings.TrimSpace(text(container.Find(sel.OrderTime).First()))
	shopName := strings.TrimSpace(text(container.Find(sel.ShopName).First()))
	status := strings.TrimSpace(text(container.Find(sel.OrderStatus).First()))
	actualFee := cleanPrice(container.Find(sel.ActualFee).First())

	detailRef := ""
	if href, ok := container.Find(sel.DetailLink).First().Attr("href"); ok {
		detailRef = e.absoluteURL(href)
	}

	// Shipping fee lives in the price block that mentions it; the last match wins
	shippingFee := defaultAmount
	container.Find(sel.PriceBlock).Each(func(_ int, block *goquery.Selection) {
		if strings.Contains(block.Text(), "含运费") {
			shippingFee = cleanPrice(block)
		}
	})

	container.Find(sel.ItemInfo).Each(func(_ int, item *goquery.Selection) {
		record := models.NewRecord()
		record.OrderID = orderID
		record.OrderTime = orderTime
		record.ShopName = shopName
		record.Status = status
		record.ActualFee = actualFee
		record.ShippingFee = shippingFee
		record.DetailRef = detailRef

		record.ItemTitle = strings.TrimSpace(text(item.Find(sel.ItemTitle).First()))
		record.ItemSpec = joinSpec(item.Find(sel.ItemSpec))
		record.UnitPrice, record.ListPrice = e.itemPrices(item)

		if qty := item.Find(sel.ItemQuantity).First(); qty.Length() > 0 {
			record.Quantity = strings.TrimSpace(strings.Replace(text(qty), "x", "", 1))
		}
		record.ItemImage = imageURL(item.Find(sel.ItemImage).First())

		record.Normalize()
		records = append(records, record)
	})

	return records, nil
}

// itemPrices returns (unit, list). A block whose class carries the list price marker is the list price.
func (e *OrderListExtractor) itemPrices(item *goquery.Selection) (string, string) {
	unit, list := defaultAmount, defaultAmount

	priceEl := item.Find(e.selectors.ItemPrice).First()
	if priceEl.Length() == 0 {
		return unit, list
	}

	priceEl.Find(e.selectors.PriceBlock).Each(func(_ int, block *goquery.Selection) {
		class, _ := block.Attr("class")
		if e.selectors.ListPriceClass != "" && strings.Contains(class, e.selectors.ListPriceClass) {
			list = cleanPrice(block)
		} else {
			unit = cleanPrice(block)
		}
	})

	return unit, list
}

func (e *OrderListExtractor) absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if e.baseURL == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.baseURL.ResolveReference(ref).String()
}

// cleanPrice strips currency marks and labels from a price element's text.
// Parseable amounts are rendered with two decimals; anything else is returned as cleaned.
func cleanPrice(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return defaultAmount
	}

	cleaned := priceNoise.Replace(whitespace.ReplaceAllString(s.Text(), ""))
	if cleaned == "" {
		return cleaned
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return cleaned
	}
	return amount.StringFixed(2)
}

// imageURL reads a background-image url() from the element's style, or the src of the element or its first img
func imageURL(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}

	if style, ok := s.Attr("style"); ok && style != "" {
		if match := styleImageURL.FindStringSubmatch(style); len(match) > 1 && match[1] != "" {
			return httpsURL(match[1])
		}
	}

	img := s
	if goquery.NodeName(s) != "img" {
		img = s.Find("img").First()
	}
	if src, ok := img.Attr("src"); ok && src != "" {
		return httpsURL(src)
	}

	return ""
}

func httpsURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func joinSpec(specs *goquery.Selection) string {
	parts := make([]string, 0, specs.Length())
	specs.Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, strings.TrimSpace(s.Text()))
	})
	return strings.Join(parts, "; ")
}

func text(s *goquery.Selection) string {
	if s == nil {
		return ""
	}
	return s.Text()
}
