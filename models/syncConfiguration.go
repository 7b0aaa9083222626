package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncConfiguration is one runtime setting row. Each key is independently
// versioned by updated_by/updated_at.
type SyncConfiguration struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ConfigKey   string    `gorm:"size:64;uniqueIndex;not null" json:"config_key"`
	ConfigValue string    `gorm:"size:255;not null" json:"config_value"`
	Description string    `gorm:"size:255" json:"description"`
	UpdatedBy   string    `gorm:"size:255" json:"updated_by"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	ConfigKeySyncEnabled            = "sync_enabled"
	ConfigKeySyncIntervalMinutes    = "sync_interval_minutes"
	ConfigKeyMaxRetryAttempts       = "max_retry_attempts"
	ConfigKeyRetryBackoffMultiplier = "retry_backoff_multiplier"
	ConfigKeyBatchSize              = "batch_size"
	ConfigKeyConflictMode           = "conflict_resolution_mode"
	ConfigKeyConflictStrategy       = "conflict_resolution_strategy"
	ConfigKeySyncLogRetentionDays   = "sync_log_retention_days"
)

// SyncSettings is the typed snapshot the engine works with. A batch reads one
// snapshot at start; mid-batch config changes do not affect it.
type SyncSettings struct {
	SyncEnabled            bool   `json:"sync_enabled"`
	SyncIntervalMinutes    int    `json:"sync_interval_minutes"`
	MaxRetryAttempts       int    `json:"max_retry_attempts"`
	RetryBackoffMultiplier int    `json:"retry_backoff_multiplier"`
	BatchSize              int    `json:"batch_size"`
	ConflictMode           string `json:"conflict_resolution_mode"`
	ConflictStrategy       string `json:"conflict_resolution_strategy"`
	SyncLogRetentionDays   int    `json:"sync_log_retention_days"`
}

func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		SyncEnabled:            true,
		SyncIntervalMinutes:    15,
		MaxRetryAttempts:       3,
		RetryBackoffMultiplier: 2,
		BatchSize:              50,
		ConflictMode:           "manual",
		ConflictStrategy:       "local_wins",
		SyncLogRetentionDays:   30,
	}
}

// LoadSyncSettings reads all configuration rows and overlays them onto the
// defaults. Unknown keys are ignored; malformed values fall back to defaults.
func LoadSyncSettings(ctx context.Context) (SyncSettings, error) {
	db := config.GetDB()
	settings := DefaultSyncSettings()

	var rows []SyncConfiguration
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return settings, err
	}

	for _, row := range rows {
		switch row.ConfigKey {
		case ConfigKeySyncEnabled:
			settings.SyncEnabled = row.ConfigValue == "true" || row.ConfigValue == "1"
		case ConfigKeySyncIntervalMinutes:
			if v, err := strconv.Atoi(row.ConfigValue); err == nil && v >= 1 && v <= 1440 {
				settings.SyncIntervalMinutes = v
			}
		case ConfigKeyMaxRetryAttempts:
			if v, err := strconv.Atoi(row.ConfigValue); err == nil && v >= 1 {
				settings.MaxRetryAttempts = v
			}
		case ConfigKeyRetryBackoffMultiplier:
			if v, err := strconv.Atoi(row.ConfigValue); err == nil && v >= 2 {
				settings.RetryBackoffMultiplier = v
			}
		case ConfigKeyBatchSize:
			if v, err := strconv.Atoi(row.ConfigValue); err == nil && v >= 1 {
				settings.BatchSize = v
			}
		case ConfigKeyConflictMode:
			if row.ConfigValue == "auto" || row.ConfigValue == "manual" {
				settings.ConflictMode = row.ConfigValue
			}
		case ConfigKeyConflictStrategy:
			if row.ConfigValue == "local_wins" || row.ConfigValue == "remote_wins" {
				settings.ConflictStrategy = row.ConfigValue
			}
		case ConfigKeySyncLogRetentionDays:
			if v, err := strconv.Atoi(row.ConfigValue); err == nil && v >= 1 {
				settings.SyncLogRetentionDays = v
			}
		}
	}
	return settings, nil
}

// SetSyncConfiguration upserts one configuration key.
func SetSyncConfiguration(ctx context.Context, key string, value string, updatedBy string) error {
	db := config.GetDB()
	row := SyncConfiguration{
		ConfigKey:   key,
		ConfigValue: value,
		UpdatedBy:   updatedBy,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_by"}),
	}).Create(&row).Error
}

// SyncConfigurationUpdate is the operator-facing partial update payload.
type SyncConfigurationUpdate struct {
	SyncEnabled          *bool   `json:"sync_enabled"`
	SyncIntervalMinutes  *int    `json:"sync_interval_minutes" binding:"omitempty,min=1,max=1440"`
	MaxRetryAttempts     *int    `json:"max_retry_attempts" binding:"omitempty,min=1,max=10"`
	BatchSize            *int    `json:"batch_size" binding:"omitempty,min=1,max=500"`
	ConflictMode         *string `json:"conflict_resolution_mode" binding:"omitempty,oneof=auto manual"`
	ConflictStrategy     *string `json:"conflict_resolution_strategy" binding:"omitempty,oneof=local_wins remote_wins"`
	SyncLogRetentionDays *int    `json:"sync_log_retention_days" binding:"omitempty,min=1,max=365"`
}

// ApplySyncConfigurationUpdate writes only the keys present in the payload.
// Returns the keys changed.
func ApplySyncConfigurationUpdate(ctx context.Context, input *SyncConfigurationUpdate, updatedBy string) ([]string, error) {
	var changed []string

	set := func(key string, value string) error {
		if err := SetSyncConfiguration(ctx, key, value, updatedBy); err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		changed = append(changed, key)
		return nil
	}

	if input.SyncEnabled != nil {
		if err := set(ConfigKeySyncEnabled, strconv.FormatBool(*input.SyncEnabled)); err != nil {
			return changed, err
		}
	}
	if input.SyncIntervalMinutes != nil {
		if err := set(ConfigKeySyncIntervalMinutes, strconv.Itoa(*input.SyncIntervalMinutes)); err != nil {
			return changed, err
		}
	}
	if input.MaxRetryAttempts != nil {
		if err := set(ConfigKeyMaxRetryAttempts, strconv.Itoa(*input.MaxRetryAttempts)); err != nil {
			return changed, err
		}
	}
	if input.BatchSize != nil {
		if err := set(ConfigKeyBatchSize, strconv.Itoa(*input.BatchSize)); err != nil {
			return changed, err
		}
	}
	if input.ConflictMode != nil {
		if err := set(ConfigKeyConflictMode, *input.ConflictMode); err != nil {
			return changed, err
		}
	}
	if input.ConflictStrategy != nil {
		if err := set(ConfigKeyConflictStrategy, *input.ConflictStrategy); err != nil {
			return changed, err
		}
	}
	if input.SyncLogRetentionDays != nil {
		if err := set(ConfigKeySyncLogRetentionDays, strconv.Itoa(*input.SyncLogRetentionDays)); err != nil {
			return changed, err
		}
	}

	if len(changed) == 0 {
		return nil, errors.New("no configuration keys in payload")
	}
	return changed, nil
}

// SeedSyncConfiguration inserts default rows for missing keys at startup.
func SeedSyncConfiguration(ctx context.Context) error {
	db := config.GetDB()
	defaults := []SyncConfiguration{
		{ConfigKey: ConfigKeySyncEnabled, ConfigValue: "true", Description: "master switch for the sync engine"},
		{ConfigKey: ConfigKeySyncIntervalMinutes, ConfigValue: "15", Description: "minutes between scheduled batches"},
		{ConfigKey: ConfigKeyMaxRetryAttempts, ConfigValue: "3", Description: "attempts before an order is marked failed"},
		{ConfigKey: ConfigKeyRetryBackoffMultiplier, ConfigValue: "2", Description: "exponential backoff base in minutes"},
		{ConfigKey: ConfigKeyBatchSize, ConfigValue: "50", Description: "orders per batch chunk"},
		{ConfigKey: ConfigKeyConflictMode, ConfigValue: "manual", Description: "auto or manual conflict resolution"},
		{ConfigKey: ConfigKeyConflictStrategy, ConfigValue: "local_wins", Description: "strategy used when mode is auto"},
		{ConfigKey: ConfigKeySyncLogRetentionDays, ConfigValue: "30", Description: "days to keep sync log rows"},
	}

	for _, row := range defaults {
		var existing SyncConfiguration
		err := db.WithContext(ctx).Where("config_key = ?", row.ConfigKey).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			if isDuplicateKeyErr(err) {
				continue
			}
			return err
		}
	}
	return nil
}
