package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Detail field keys merged in from an order's detail page
const (
	DetailRecipient   = "recipient"
	DetailSnapshot    = "snapshot"
	DetailTradeNo     = "trade_no"
	DetailCreatedAt   = "created_at"
	DetailPaidAt      = "paid_at"
	DetailShippedAt   = "shipped_at"
	DetailCompletedAt = "completed_at"
)

// DetailKeys lists every detail field in export column order
var DetailKeys = []string{
	DetailRecipient,
	DetailSnapshot,
	DetailTradeNo,
	DetailCreatedAt,
	DetailPaidAt,
	DetailShippedAt,
	DetailCompletedAt,
}

// Record represents one line item within one order
type Record struct {
	OrderID     string `json:"order_id"`
	OrderTime   string `json:"order_time"`
	ShopName    string `json:"shop_name"`
	Status      string `json:"status"`
	ItemTitle   string `json:"item_title"`
	ItemSpec    string `json:"item_spec"`
	UnitPrice   string `json:"unit_price"`
	ListPrice   string `json:"list_price"`
	Quantity    string `json:"quantity"`
	ActualFee   string `json:"actual_fee"`
	ShippingFee string `json:"shipping_fee"`
	ItemImage   string `json:"item_image"`

	// DetailRef is only meaningful while the page is being processed
	DetailRef string `json:"-"`

	DetailFields map[string]string `json:"detail_fields"`
}

// NewRecord creates a record with every detail field present and empty
func NewRecord() *Record {
	fields := make(map[string]string, len(DetailKeys))
	for _, key := range DetailKeys {
		fields[key] = ""
	}
	return &Record{DetailFields: fields}
}

// Normalize applies list-page defaults: a missing or zero list price falls back to the unit price
// and a missing quantity counts as one.
func (r *Record) Normalize() {
	if isZeroAmount(r.ListPrice) {
		r.ListPrice = r.UnitPrice
	}
	if strings.TrimSpace(r.Quantity) == "" {
		r.Quantity = "1"
	}
	if r.DetailFields == nil {
		r.DetailFields = make(map[string]string, len(DetailKeys))
	}
	for _, key := range DetailKeys {
		if _, ok := r.DetailFields[key]; !ok {
			r.DetailFields[key] = ""
		}
	}
}

// ApplyPatch merges detail fields into the record; patch values win on key collision
func (r *Record) ApplyPatch(patch DetailPatch) {
	if r.DetailFields == nil {
		r.DetailFields = make(map[string]string, len(patch.Fields))
	}
	for key, value := range patch.Fields {
		r.DetailFields[key] = value
	}
}

// Exportable returns a copy of the record safe to hand to a table sink
func (r *Record) Exportable() Record {
	out := *r
	out.DetailRef = ""
	out.DetailFields = make(map[string]string, len(r.DetailFields))
	for key, value := range r.DetailFields {
		out.DetailFields[key] = value
	}
	return out
}

func isZeroAmount(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsZero()
}
