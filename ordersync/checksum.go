package ordersync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/models"
)

// orderSnapshot is the canonical sync payload. Field order is fixed by the
// struct definition, so serialization is deterministic — never serialize a
// map here, key order would break checksum stability.
type orderSnapshot struct {
	OrderNumber    string              `json:"order_number"`
	TerminalId     string              `json:"terminal_id"`
	TableNumber    string              `json:"table_number"`
	CustomerName   string              `json:"customer_name"`
	CurrentStatus  string              `json:"current_status"`
	OrderDate      string              `json:"order_date"`
	Subtotal       string              `json:"subtotal"`
	TaxAmount      string              `json:"tax_amount"`
	DiscountAmount string              `json:"discount_amount"`
	TotalAmount    string              `json:"total_amount"`
	Notes          string              `json:"notes"`
	Items          []orderItemSnapshot `json:"items"`
}

type orderItemSnapshot struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Amount    string `json:"amount"`
	Notes     string `json:"notes"`
}

// SerializeOrder renders the canonical byte sequence for an order. Decimal
// fields are fixed to 4 places so equal values always serialize identically.
func SerializeOrder(order *models.Order) ([]byte, error) {
	snapshot := orderSnapshot{
		OrderNumber:    order.OrderNumber,
		TerminalId:     order.TerminalId,
		TableNumber:    order.TableNumber,
		CustomerName:   order.CustomerName,
		CurrentStatus:  string(order.CurrentStatus),
		OrderDate:      order.OrderDate.UTC().Format(time.RFC3339),
		Subtotal:       order.Subtotal.StringFixed(4),
		TaxAmount:      order.TaxAmount.StringFixed(4),
		DiscountAmount: order.DiscountAmount.StringFixed(4),
		TotalAmount:    order.TotalAmount.StringFixed(4),
		Notes:          order.Notes,
		Items:          make([]orderItemSnapshot, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		snapshot.Items = append(snapshot.Items, orderItemSnapshot{
			Name:      item.Name,
			Quantity:  item.Quantity.StringFixed(4),
			UnitPrice: item.UnitPrice.StringFixed(4),
			Amount:    item.Amount.StringFixed(4),
			Notes:     item.Notes,
		})
	}
	return json.Marshal(snapshot)
}

// Checksum returns the SHA-256 hex digest of a serialized snapshot.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OrderChecksum is the serialize+hash convenience used by the worker and by
// drift checks.
func OrderChecksum(order *models.Order) (payload []byte, checksum string, err error) {
	payload, err = SerializeOrder(order)
	if err != nil {
		return nil, "", err
	}
	return payload, Checksum(payload), nil
}
