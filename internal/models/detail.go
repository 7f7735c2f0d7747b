package models

// DetailPatch is the outcome of one detail-page fetch. A failed fetch is still a patch:
// Fields is empty and Err records why, for logging only.
type DetailPatch struct {
	Fields map[string]string `json:"fields"`
	Err    error             `json:"-"`
}

// EmptyPatch returns a patch carrying no fields
func EmptyPatch(err error) DetailPatch {
	return DetailPatch{Fields: map[string]string{}, Err: err}
}

// IsEmpty reports whether the patch would leave a record unchanged
func (p DetailPatch) IsEmpty() bool {
	return len(p.Fields) == 0
}

// OrderPatch pairs an order id with the patch fetched for it
type OrderPatch struct {
	OrderID string
	Patch   DetailPatch
}
