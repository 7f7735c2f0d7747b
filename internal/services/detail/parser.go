// Package detail loads an order's detail page and parses it into detail fields.
package detail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
	"golang.org/x/net/html"
)

// Row titles on the detail page mapped to detail keys
var titleKeys = map[string]string{
	"交易快照":   models.DetailSnapshot,
	"支付宝交易号": models.DetailTradeNo,
	"创建时间":   models.DetailCreatedAt,
	"付款时间":   models.DetailPaidAt,
	"发货时间":   models.DetailShippedAt,
	"成交时间":   models.DetailCompletedAt,
}

// Fallback row title for the recipient when the logistics block is absent
const recipientTitle = "收货信息"

var whitespace = regexp.MustCompile(`\s+`)

// Parser extracts detail fields from a rendered order detail page
type Parser struct {
	selectors common.SelectorConfig
}

// NewParser creates a parser for the given selectors
func NewParser(selectors common.SelectorConfig) *Parser {
	return &Parser{selectors: selectors}
}

// Parse returns every detail key; fields not found on the page are empty
func (p *Parser) Parse(page string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail HTML: %w", err)
	}

	fields := make(map[string]string, len(models.DetailKeys))
	for _, key := range models.DetailKeys {
		fields[key] = ""
	}

	if logistics := doc.Find(p.selectors.DetailLogistics).First(); logistics.Length() > 0 {
		address := logistics
		if item := logistics.Find(p.selectors.DetailAddressItem).First(); item.Length() > 0 {
			address = item
		}
		fields[models.DetailRecipient] = collapse(innerText(address))
	}

	doc.Find(p.selectors.DetailInfoRow).Each(func(_ int, row *goquery.Selection) {
		titleEl := row.Find(p.selectors.DetailInfoTitle).First()
		if titleEl.Length() == 0 {
			return
		}
		title := strings.TrimSpace(titleEl.Text())

		value := p.valueElement(row)

		if title == recipientTitle {
			if fields[models.DetailRecipient] == "" {
				fields[models.DetailRecipient] = collapse(innerText(value))
			}
			return
		}

		key, ok := titleKeys[title]
		if !ok {
			return
		}
		if key == models.DetailSnapshot {
			fields[key] = snapshotLink(value)
			return
		}
		fields[key] = strings.TrimSpace(innerText(value))
	})

	return fields, nil
}

// valueElement is the first item in the row that is not, and does not hold, the row title
func (p *Parser) valueElement(row *goquery.Selection) *goquery.Selection {
	return row.Find(p.selectors.DetailInfoItem).FilterFunction(func(_ int, item *goquery.Selection) bool {
		return !item.Is(p.selectors.DetailInfoTitle) && item.Find(p.selectors.DetailInfoTitle).Length() == 0
	}).First()
}

// snapshotLink prefers the href of the value (or a link inside it) over its text
func snapshotLink(value *goquery.Selection) string {
	if value.Length() == 0 {
		return ""
	}
	link := value
	if goquery.NodeName(value) != "a" {
		link = value.Find("a").First()
	}
	if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" {
		return absoluteURL(strings.TrimSpace(href))
	}
	return strings.TrimSpace(innerText(value))
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// innerText joins the selection's text nodes in document order, separating them with spaces
// so adjacent blocks do not run together
func innerText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(s.Get(0))

	return strings.Join(parts, " ")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
