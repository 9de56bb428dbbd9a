package migration

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusInitializing = "initializing"
	StatusActive       = "active"
)

var ErrSchemaStateNotFound = errors.New("schema state not found")

// SchemaState is the single row recording which migration set the database
// was brought to. Servers refuse to start when it does not match the binary.
type SchemaState struct {
	ID            bool       `gorm:"column:id;primaryKey"`
	Status        string     `gorm:"column:status;type:varchar(20);not null"`
	SchemaVersion string     `gorm:"column:schema_version;type:varchar(20);not null"`
	Checksum      *string    `gorm:"column:checksum;type:varchar(64)"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
}

func (SchemaState) TableName() string { return "system_bootstrap_state" }

func activateSchemaState(ctx context.Context, db *gorm.DB, version, checksum string, now time.Time) error {
	state := SchemaState{
		ID:            true,
		Status:        StatusActive,
		SchemaVersion: version,
		ActivatedAt:   &now,
		CreatedAt:     now,
	}
	if trimmed := strings.TrimSpace(checksum); trimmed != "" {
		state.Checksum = &trimmed
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "schema_version", "checksum", "activated_at"}),
	}).Create(&state).Error
}

// LoadSchemaState reads the schema state row.
func LoadSchemaState(ctx context.Context, db *gorm.DB) (*SchemaState, error) {
	var state SchemaState
	res := db.WithContext(ctx).Where("id = ?", true).Limit(1).Find(&state)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSchemaStateNotFound
	}
	state.Status = strings.ToLower(strings.TrimSpace(state.Status))
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	return &state, nil
}
