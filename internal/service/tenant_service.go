package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ElonQian1/QuickTalk--sub006/internal/domain"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/repository"
)

// TenantService 店铺管理，写入持久层后立即同步到注册表
type TenantService struct {
	repo     TenantRepoCRUD
	registry *TenantRegistry
	dns      DNSInvalidator
	now      func() time.Time
}

type TenantRepoCRUD interface {
	TenantSource
	List(ctx context.Context, limit, offset int) ([]*model.Tenant, error)
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	Create(ctx context.Context, t *model.Tenant) error
	Update(ctx context.Context, t *model.Tenant) error
	Delete(ctx context.Context, id string) error
}

// DNSInvalidator drops cached resolutions for a shop domain after it changes.
type DNSInvalidator interface {
	Invalidate(host string)
}

type TenantCreateRequest struct {
	ID     string             `json:"id"`
	Name   string             `json:"name" binding:"required"`
	Domain string             `json:"domain" binding:"required"`
	Status model.TenantStatus `json:"status"`
}

type TenantUpdateRequest struct {
	Name   *string             `json:"name"`
	Domain *string             `json:"domain"`
	Status *model.TenantStatus `json:"status"`
}

type TenantStatusRequest struct {
	Status model.TenantStatus `json:"status" binding:"required"`
}

func NewTenantService(registry *TenantRegistry, repo TenantRepoCRUD, dns DNSInvalidator) *TenantService {
	return &TenantService{
		repo:     repo,
		registry: registry,
		dns:      dns,
		now:      time.Now,
	}
}

func (s *TenantService) List(ctx context.Context, limit, offset int) ([]*model.Tenant, error) {
	if s.repo != nil {
		return s.repo.List(ctx, limit, offset)
	}
	all := s.registry.List()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*model.Tenant{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *TenantService) Get(ctx context.Context, id string) (*model.Tenant, error) {
	if s.repo != nil {
		return s.repo.GetByID(ctx, id)
	}
	tenant, ok := s.registry.GetByID(id)
	if !ok {
		return nil, repository.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *TenantService) Create(ctx context.Context, req TenantCreateRequest) (*model.Tenant, error) {
	pattern, err := normalizePattern(req.Domain)
	if err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = model.TenantPending
	}
	if !status.Valid() {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("invalid status %q", status))
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	tenant := &model.Tenant{
		ID:            id,
		Name:          strings.TrimSpace(req.Name),
		DomainPattern: pattern,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, tenant); err != nil {
			return nil, err
		}
	} else if _, exists := s.registry.GetByID(id); exists {
		return nil, repository.ErrTenantExists
	}
	s.registry.Register(tenant)
	return tenant, nil
}

func (s *TenantService) Update(ctx context.Context, id string, req TenantUpdateRequest) (*model.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldPattern := tenant.DomainPattern

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.NewInvalidRequest("name must not be empty")
		}
		tenant.Name = name
	}
	if req.Domain != nil {
		pattern, err := normalizePattern(*req.Domain)
		if err != nil {
			return nil, err
		}
		tenant.DomainPattern = pattern
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, apperrors.NewInvalidRequest(fmt.Sprintf("invalid status %q", *req.Status))
		}
		tenant.Status = *req.Status
	}
	return s.save(ctx, tenant, oldPattern)
}

func (s *TenantService) SetStatus(ctx context.Context, id string, req TenantStatusRequest) (*model.Tenant, error) {
	return s.Update(ctx, id, TenantUpdateRequest{Status: &req.Status})
}

func (s *TenantService) Delete(ctx context.Context, id string) error {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
	}
	s.registry.RemoveByID(id)
	s.invalidate(tenant.DomainPattern)
	return nil
}

func (s *TenantService) save(ctx context.Context, tenant *model.Tenant, oldPattern string) (*model.Tenant, error) {
	tenant.UpdatedAt = s.now().UTC()
	if s.repo != nil {
		if err := s.repo.Update(ctx, tenant); err != nil {
			return nil, err
		}
	}
	s.registry.Replace(tenant)
	if oldPattern != tenant.DomainPattern {
		s.invalidate(oldPattern)
	}
	return tenant, nil
}

func (s *TenantService) invalidate(pattern string) {
	if s.dns == nil {
		return
	}
	if host := domain.LiteralHost(pattern); host != "" {
		s.dns.Invalidate(host)
	}
}

func normalizePattern(raw string) (string, error) {
	if !domain.ValidPattern(raw) {
		return "", apperrors.NewInvalidRequest(fmt.Sprintf("invalid domain %q", raw))
	}
	return domain.Normalize(raw), nil
}

// IsNotFound reports whether err means the shop does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrTenantNotFound)
}
