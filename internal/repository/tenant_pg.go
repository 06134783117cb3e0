package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type shopRecord struct {
	ID            string    `gorm:"primaryKey;type:text"`
	Name          string    `gorm:"size:255;not null;default:''"`
	DomainPattern string    `gorm:"column:domain;size:255;not null;index"`
	Status        string    `gorm:"size:20;not null;index"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (shopRecord) TableName() string { return "shops" }

func (r *shopRecord) toDomain() *model.Tenant {
	return &model.Tenant{
		ID:            r.ID,
		Name:          r.Name,
		DomainPattern: r.DomainPattern,
		Status:        model.TenantStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func newShopRecord(t *model.Tenant) *shopRecord {
	return &shopRecord{
		ID:            t.ID,
		Name:          t.Name,
		DomainPattern: t.DomainPattern,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type PostgresTenantRepo struct {
	db *gorm.DB
}

func NewPostgresTenantRepo(db *gorm.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

// ListAll feeds the in-memory registry.
func (r *PostgresTenantRepo) ListAll(ctx context.Context) ([]*model.Tenant, error) {
	var rows []shopRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toTenants(rows), nil
}

func (r *PostgresTenantRepo) List(ctx context.Context, limit, offset int) ([]*model.Tenant, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var rows []shopRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toTenants(rows), nil
}

func (r *PostgresTenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var row shopRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *PostgresTenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	err := r.db.WithContext(ctx).Create(newShopRecord(t)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTenantExists
	}
	return err
}

func (r *PostgresTenantRepo) Update(ctx context.Context, t *model.Tenant) error {
	res := r.db.WithContext(ctx).
		Model(&shopRecord{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{
			"name":       t.Name,
			"domain":     t.DomainPattern,
			"status":     string(t.Status),
			"updated_at": t.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *PostgresTenantRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&shopRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func toTenants(rows []shopRecord) []*model.Tenant {
	out := make([]*model.Tenant, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
