package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "Open"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

type Order struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrderNumber    string          `gorm:"size:64;uniqueIndex;not null" json:"order_number" binding:"required"`
	TerminalId     string          `gorm:"size:64;index" json:"terminal_id"`
	TableNumber    string          `gorm:"size:16" json:"table_number"`
	CustomerName   string          `gorm:"size:255" json:"customer_name"`
	CurrentStatus  OrderStatus     `gorm:"type:enum('Open','Completed','Cancelled');not null;default:'Open'" json:"current_status"`
	OrderDate      time.Time       `gorm:"not null" json:"order_date"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Notes          string          `gorm:"type:text" json:"notes"`
	Items          []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`

	// Sync-related fields. Owned by this module but mutated only by the
	// ordersync engine on verified success (or remote_wins resolution).
	ExternalId  *string    `gorm:"size:128;index" json:"external_id"`
	SyncVersion int        `gorm:"default:0" json:"sync_version"`
	IsSynced    bool       `gorm:"default:false;index" json:"is_synced"`
	LastSyncAt  *time.Time `json:"last_sync_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID         int             `gorm:"primary_key" json:"id"`
	OrderId    int             `gorm:"index;not null" json:"order_id"`
	MenuItemId int             `gorm:"index" json:"menu_item_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Quantity   decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Notes      string          `gorm:"size:255" json:"notes"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewOrder struct {
	OrderNumber    string          `json:"order_number" binding:"required"`
	TerminalId     string          `json:"terminal_id"`
	TableNumber    string          `json:"table_number"`
	CustomerName   string          `json:"customer_name"`
	OrderDate      *time.Time      `json:"order_date"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Notes          string          `json:"notes"`
	Items          []NewOrderItem  `json:"items" binding:"required,min=1"`
}

type NewOrderItem struct {
	MenuItemId int             `json:"menu_item_id"`
	Name       string          `json:"name" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price" binding:"required"`
	Notes      string          `json:"notes"`
}

func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	orderDate := time.Now()
	if input.OrderDate != nil {
		orderDate = *input.OrderDate
	}

	var items []OrderItem
	var subtotal decimal.Decimal
	for _, item := range input.Items {
		amount := item.UnitPrice.Mul(item.Quantity)
		items = append(items, OrderItem{
			MenuItemId: item.MenuItemId,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Amount:     amount,
			Notes:      item.Notes,
		})
		subtotal = subtotal.Add(amount)
	}

	order := Order{
		OrderNumber:    input.OrderNumber,
		TerminalId:     input.TerminalId,
		TableNumber:    input.TableNumber,
		CustomerName:   input.CustomerName,
		CurrentStatus:  OrderStatusOpen,
		OrderDate:      orderDate,
		Subtotal:       subtotal,
		TaxAmount:      input.TaxAmount,
		DiscountAmount: input.DiscountAmount,
		TotalAmount:    subtotal.Add(input.TaxAmount).Sub(input.DiscountAmount),
		Notes:          input.Notes,
		Items:          items,
	}

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func GetOrders(ctx context.Context, limit int, offset int) ([]*Order, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var orders []*Order
	err := db.WithContext(ctx).Preload("Items").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

// ApplySyncSuccess records a verified remote acknowledgement on the order.
// Called only after the remote system confirmed the create/update.
func ApplySyncSuccess(ctx context.Context, orderId int, externalId string, syncVersion int) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderId).
		Updates(map[string]interface{}{
			"external_id":  externalId,
			"sync_version": syncVersion,
			"is_synced":    true,
			"last_sync_at": now,
		}).Error
}

// RemoteOrderSnapshot is the subset of order fields the remote system owns in
// a remote_wins resolution.
type RemoteOrderSnapshot struct {
	CustomerName   *string          `json:"customer_name"`
	TableNumber    *string          `json:"table_number"`
	CurrentStatus  *string          `json:"current_status"`
	Subtotal       *decimal.Decimal `json:"subtotal"`
	TaxAmount      *decimal.Decimal `json:"tax_amount"`
	DiscountAmount *decimal.Decimal `json:"discount_amount"`
	TotalAmount    *decimal.Decimal `json:"total_amount"`
	Notes          *string          `json:"notes"`
	SyncVersion    *int             `json:"sync_version"`
}

// ApplyRemoteSnapshot overwrites local order fields from the remote payload.
// Used by remote_wins conflict resolution; unknown remote fields are ignored.
func ApplyRemoteSnapshot(ctx context.Context, orderId int, remoteData []byte) error {
	db := config.GetDB()

	var snapshot RemoteOrderSnapshot
	if err := json.Unmarshal(remoteData, &snapshot); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if snapshot.CustomerName != nil {
		updates["customer_name"] = *snapshot.CustomerName
	}
	if snapshot.TableNumber != nil {
		updates["table_number"] = *snapshot.TableNumber
	}
	if snapshot.CurrentStatus != nil {
		updates["current_status"] = *snapshot.CurrentStatus
	}
	if snapshot.Subtotal != nil {
		updates["subtotal"] = *snapshot.Subtotal
	}
	if snapshot.TaxAmount != nil {
		updates["tax_amount"] = *snapshot.TaxAmount
	}
	if snapshot.DiscountAmount != nil {
		updates["discount_amount"] = *snapshot.DiscountAmount
	}
	if snapshot.TotalAmount != nil {
		updates["total_amount"] = *snapshot.TotalAmount
	}
	if snapshot.Notes != nil {
		updates["notes"] = *snapshot.Notes
	}
	if snapshot.SyncVersion != nil {
		updates["sync_version"] = *snapshot.SyncVersion
	}
	if len(updates) == 0 {
		return nil
	}

	now := time.Now()
	updates["is_synced"] = true
	updates["last_sync_at"] = now

	return db.WithContext(ctx).Model(&Order{}).
		Where("id = ?", orderId).
		Updates(updates).Error
}

// OrderExists reports whether an order row exists without loading items.
func OrderExists(ctx context.Context, id int) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Order{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountUnsyncedOrders counts orders that have never completed a sync.
func CountUnsyncedOrders(ctx context.Context) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Order{}).Where("is_synced = ?", false).Count(&count).Error
	return count, err
}
