package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"github.com/shopspring/decimal"
)

type MenuItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Category    string          `gorm:"size:64;index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	IsAvailable bool            `gorm:"default:true" json:"is_available"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

const menuItemsCacheKey = "menu:items"

// GetMenuItems lists available menu items through the redis object cache.
func GetMenuItems(ctx context.Context) ([]*MenuItem, error) {
	var items []*MenuItem
	found, err := config.GetRedisObject(menuItemsCacheKey, &items)
	if err == nil && found {
		return items, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("is_available = ?", true).
		Order("category, name").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(menuItemsCacheKey, items, 5*time.Minute)
	return items, nil
}

func CreateMenuItem(ctx context.Context, item *MenuItem) error {
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return err
	}
	_ = config.RemoveRedisKey(menuItemsCacheKey)
	return nil
}
