package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Normalize(t *testing.T) {
	tests := []struct {
		name          string
		record        Record
		wantListPrice string
		wantQuantity  string
	}{
		{name: "list price kept", record: Record{UnitPrice: "19.90", ListPrice: "29.00", Quantity: "2"}, wantListPrice: "29.00", wantQuantity: "2"},
		{name: "missing list price", record: Record{UnitPrice: "19.90"}, wantListPrice: "19.90", wantQuantity: "1"},
		{name: "zero list price", record: Record{UnitPrice: "19.90", ListPrice: "0.00", Quantity: " "}, wantListPrice: "19.90", wantQuantity: "1"},
		{name: "unparseable list price kept", record: Record{UnitPrice: "19.90", ListPrice: "n/a", Quantity: "3"}, wantListPrice: "n/a", wantQuantity: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record
			r.Normalize()

			assert.Equal(t, tt.wantListPrice, r.ListPrice)
			assert.Equal(t, tt.wantQuantity, r.Quantity)
			assert.Len(t, r.DetailFields, len(DetailKeys))
		})
	}
}

func TestRecord_ApplyPatch(t *testing.T) {
	r := NewRecord()
	r.DetailFields[DetailTradeNo] = "old"

	r.ApplyPatch(DetailPatch{Fields: map[string]string{DetailTradeNo: "2024", "extra": "kept"}})
	assert.Equal(t, "2024", r.DetailFields[DetailTradeNo])
	assert.Equal(t, "kept", r.DetailFields["extra"])

	r.ApplyPatch(EmptyPatch(errors.New("timeout")))
	assert.Equal(t, "2024", r.DetailFields[DetailTradeNo], "empty patch leaves the record unchanged")
}

func TestRecord_Exportable(t *testing.T) {
	r := NewRecord()
	r.OrderID = "1001"
	r.DetailRef = "//trade.example.com/detail?id=1001"

	out := r.Exportable()
	assert.Empty(t, out.DetailRef)
	assert.Equal(t, "1001", out.OrderID)

	out.DetailFields[DetailRecipient] = "changed"
	require.Contains(t, r.DetailFields, DetailRecipient)
	assert.Empty(t, r.DetailFields[DetailRecipient], "copy does not alias the source map")
}

func TestDetailPatch_IsEmpty(t *testing.T) {
	assert.True(t, EmptyPatch(nil).IsEmpty())
	assert.True(t, DetailPatch{}.IsEmpty())
	assert.False(t, DetailPatch{Fields: map[string]string{DetailPaidAt: "2024-01-01"}}.IsEmpty())
}
