package service

import (
	"context"
	"errors"
	"strings"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TenantService is the tenant directory
type TenantService struct {
	db *gorm.DB
}

// NewTenantService creates a tenant directory backed by db
func NewTenantService(db *gorm.DB) *TenantService {
	return &TenantService{db: db}
}

// ActiveTenant returns the tenant with the given id when it exists and is active
func (s *TenantService) ActiveTenant(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "tenant %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ActiveTenantByCode returns the active tenant with the given code
func (s *TenantService) ActiveTenantByCode(ctx context.Context, code string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).
		Where("code = ? AND active = ?", strings.ToUpper(strings.TrimSpace(code)), true).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "tenant %s not found", code)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// IsActiveMember reports whether the user holds an active membership of the tenant
func (s *TenantService) IsActiveMember(ctx context.Context, userID, tenantID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("user_id = ? AND tenant_id = ? AND active = ?", userID, tenantID, true).
		Count(&count).Error
	return count > 0, err
}

// ListVisible returns the active tenants the principal may select.
// Privileged callers see every active tenant.
func (s *TenantService) ListVisible(ctx context.Context, p *authz.Principal) ([]model.Tenant, error) {
	var tenants []model.Tenant
	q := s.db.WithContext(ctx).Where("tenants.active = ?", true).Order("tenants.name")
	if !authz.Privileged(p) {
		q = q.Joins("JOIN memberships ON memberships.tenant_id = tenants.id").
			Where("memberships.user_id = ? AND memberships.active = ?", p.UserID, true)
	}
	if err := q.Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// Memberships returns the user's active memberships with their tenants
func (s *TenantService) Memberships(ctx context.Context, userID uint) ([]model.Membership, error) {
	var memberships []model.Membership
	err := s.db.WithContext(ctx).
		Preload("Tenant").
		Joins("JOIN tenants ON tenants.id = memberships.tenant_id").
		Where("memberships.user_id = ? AND memberships.active = ? AND tenants.active = ?", userID, true, true).
		Order("tenants.name").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// TenantInput holds the writable tenant fields
type TenantInput struct {
	Name     string
	Code     string
	Kind     model.TenantKind
	Address  string
	Phone    string
	Email    string
	Settings datatypes.JSON
}

// Create adds a tenant
func (s *TenantService) Create(ctx context.Context, p *authz.Principal, in TenantInput) (*model.Tenant, error) {
	if !authz.Can(p, authz.ManageTenants) {
		return nil, newError(ErrForbidden, "you do not have permission to manage tenants")
	}

	verr := &ValidationError{}
	in.Name = cleanText(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	if in.Name == "" {
		verr.Add("name", "This field is required.")
	}
	if in.Code == "" {
		verr.Add("code", "This field is required.")
	}
	if in.Kind == "" {
		in.Kind = model.TenantKindBranch
	}
	if !in.Kind.Valid() {
		verr.Add("kind", "Must be one of head_office, branch, agent.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Tenant{}).Where("code = ?", in.Code).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, newError(ErrConflict, "tenant with code %s already exists", in.Code)
	}

	tenant := &model.Tenant{
		Name:     in.Name,
		Code:     in.Code,
		Kind:     in.Kind,
		Address:  cleanText(in.Address),
		Phone:    strings.TrimSpace(in.Phone),
		Email:    strings.TrimSpace(in.Email),
		Settings: in.Settings,
		Active:   true,
	}
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, err
	}
	logger.FromStdContext(ctx).Info("Tenant created",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("code", tenant.Code),
		zap.String("kind", string(tenant.Kind)))
	return tenant, nil
}

// AddMember grants the user access to the tenant. An existing membership is
// reactivated and its role updated, so the (user, tenant) pair stays unique.
func (s *TenantService) AddMember(ctx context.Context, p *authz.Principal, tenantID, userID uint, role string) (*model.Membership, error) {
	if !authz.Can(p, authz.ManageTenants) {
		return nil, newError(ErrForbidden, "you do not have permission to manage tenants")
	}

	var membership model.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.Tenant{}, tenantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(ErrNotFound, "tenant %d not found", tenantID)
			}
			return err
		}
		if err := tx.First(&model.User{}, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalid("user_id", "Unknown user.")
			}
			return err
		}

		err := tx.Where("user_id = ? AND tenant_id = ?", userID, tenantID).First(&membership).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			membership = model.Membership{UserID: userID, TenantID: tenantID, Role: cleanText(role), Active: true}
			return tx.Create(&membership).Error
		case err != nil:
			return err
		}
		membership.Active = true
		if role != "" {
			membership.Role = cleanText(role)
		}
		return tx.Model(&membership).Updates(map[string]interface{}{
			"active": true,
			"role":   membership.Role,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// DisableMember turns off the user's membership of the tenant
func (s *TenantService) DisableMember(ctx context.Context, p *authz.Principal, tenantID, userID uint) error {
	if !authz.Can(p, authz.ManageTenants) {
		return newError(ErrForbidden, "you do not have permission to manage tenants")
	}
	res := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(ErrNotFound, "membership not found")
	}
	return nil
}

// tenantScope returns the tenant id queries must be filtered by, or nil when
// the caller may see every tenant.
func tenantScope(tc *authz.TenantContext) (*uint, error) {
	if !tc.Scoped() {
		return nil, nil
	}
	id := tc.TenantID()
	if id == nil {
		return nil, newError(ErrForbidden, "Tenant context required")
	}
	return id, nil
}
