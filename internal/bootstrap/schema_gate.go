package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/railzwaylabs/paygate/internal/migration"
	"gorm.io/gorm"
)

var (
	ErrSchemaInactive         = errors.New("schema state is not active")
	ErrSchemaVersionMismatch  = errors.New("schema version mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema checksum mismatch")
)

type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type schemaGate struct {
	db               *gorm.DB
	expectedVersion  string
	expectedChecksum string
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	latest, err := migration.LatestVersion()
	if err != nil {
		return nil, err
	}
	checksum, err := migration.Checksum()
	if err != nil {
		return nil, err
	}
	return &schemaGate{
		db:               db,
		expectedVersion:  strconv.FormatUint(uint64(latest), 10),
		expectedChecksum: checksum,
	}, nil
}

func (g *schemaGate) MustBeActive(ctx context.Context) error {
	state, err := migration.LoadSchemaState(ctx, g.db)
	if err != nil {
		return fmt.Errorf("%w: run `paygate migrate` first", err)
	}
	if state.Status != migration.StatusActive {
		return fmt.Errorf("%w: status=%s", ErrSchemaInactive, state.Status)
	}
	if state.SchemaVersion != g.expectedVersion {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaVersionMismatch, state.SchemaVersion, g.expectedVersion)
	}
	if state.Checksum != nil && *state.Checksum != "" && *state.Checksum != g.expectedChecksum {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.expectedChecksum)
	}
	return nil
}
