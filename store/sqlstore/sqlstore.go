// Package sqlstore keeps entities in the gorm "entities" table.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/model"
	"github.com/kasuganosora/gamewiki/server/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements store.TableStore over gorm.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func decode(rec model.EntityRecord) (entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		return nil, fmt.Errorf("sqlstore: decode %s/%s: %w", rec.Resource, rec.Code, err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, resource string) ([]entity.Entity, error) {
	var recs []model.EntityRecord
	if err := s.db.WithContext(ctx).
		Where("resource = ?", resource).
		Order("created_at ASC, code ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]entity.Entity, 0, len(recs))
	for _, r := range recs {
		e, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, resource, code string) (entity.Entity, error) {
	var rec model.EntityRecord
	err := s.db.WithContext(ctx).
		Where("resource = ? AND code = ?", resource, code).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

// Put upserts on (resource, code). An existing row keeps its created_at so
// list order stays insertion order.
func (s *Store) Put(ctx context.Context, resource, idField string, e entity.Entity) error {
	code := e.Key(idField)
	if code == "" {
		return store.ErrMissingKey
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sqlstore: encode: %w", err)
	}
	rec := model.EntityRecord{
		Resource:  resource,
		Code:      code,
		Data:      datatypes.JSON(data),
		CreatedAt: time.Now().UnixNano(),
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource"}, {Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}

func (s *Store) Delete(ctx context.Context, resource, code string) error {
	res := s.db.WithContext(ctx).
		Where("resource = ? AND code = ?", resource, code).
		Delete(&model.EntityRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Count(ctx context.Context, resource string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.EntityRecord{}).
		Where("resource = ?", resource).Count(&n).Error
	return n, err
}
