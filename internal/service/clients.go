package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/mirror"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/storage"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExternalMirror is the part of the external database bridge the services use
type ExternalMirror interface {
	Enabled() bool
	FetchClients(ctx context.Context, limit int) ([]mirror.ExternalClient, error)
	PushResult(ctx context.Context, r mirror.Result) error
}

// ClientService is the client registry
type ClientService struct {
	db     *gorm.DB
	store  storage.Store
	mirror ExternalMirror
}

// NewClientService creates a client registry. store receives document
// deletions when a client is removed; mirror may be disabled.
func NewClientService(db *gorm.DB, store storage.Store, m ExternalMirror) *ClientService {
	return &ClientService{db: db, store: store, mirror: m}
}

// ClientInput holds the writable client fields
type ClientInput struct {
	ClientType       model.ClientType
	TenantID         *uint
	FullName         string
	NationalID       string
	CorporateName    string
	UBO              string
	NatureOfBusiness string
	BRN              string
	VAT              string
	Email            string
	Phone            string
	Address          string
	City             string
}

func (in *ClientInput) clean() {
	in.ClientType = model.ClientType(strings.ToLower(strings.TrimSpace(string(in.ClientType))))
	in.FullName = cleanText(in.FullName)
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.CorporateName = cleanText(in.CorporateName)
	in.UBO = cleanText(in.UBO)
	in.NatureOfBusiness = cleanText(in.NatureOfBusiness)
	in.BRN = strings.TrimSpace(in.BRN)
	in.VAT = strings.TrimSpace(in.VAT)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = cleanText(in.Address)
	in.City = cleanText(in.City)
}

func (in *ClientInput) validate() error {
	verr := &ValidationError{}
	if !in.ClientType.Valid() {
		verr.Add("client_type", "Must be individual or corporate.")
	}
	if in.ClientType == model.ClientIndividual && in.FullName == "" {
		verr.Add("full_name", "This field is required for individual clients.")
	}
	if in.ClientType == model.ClientCorporate && in.CorporateName == "" {
		verr.Add("corporate_name", "This field is required for corporate clients.")
	}
	if in.Email != "" {
		if err := validate.Var(in.Email, "email"); err != nil {
			verr.Add("email", "Enter a valid email address.")
		}
	}
	return verr.OrNil()
}

func (in *ClientInput) apply(c *model.Client) {
	c.ClientType = in.ClientType
	c.FullName = in.FullName
	c.NationalID = in.NationalID
	c.CorporateName = in.CorporateName
	c.UBO = in.UBO
	c.NatureOfBusiness = in.NatureOfBusiness
	c.BRN = in.BRN
	c.VAT = in.VAT
	c.Email = in.Email
	c.Phone = in.Phone
	c.Address = in.Address
	c.City = in.City
}

// ClientFilter narrows a client listing
type ClientFilter struct {
	Search     string
	ClientType string
	TenantID   *uint
}

// scopedClients applies the caller's tenant restriction to a clients query
func scopedClients(q *gorm.DB, tc *authz.TenantContext) (*gorm.DB, error) {
	id, err := tenantScope(tc)
	if err != nil {
		return nil, err
	}
	if id != nil {
		q = q.Where("clients.tenant_id = ?", *id)
	}
	return q, nil
}

// List returns the clients visible to the caller, newest first
func (s *ClientService) List(ctx context.Context, tc *authz.TenantContext, f ClientFilter) ([]model.Client, error) {
	q, err := scopedClients(s.db.WithContext(ctx).Model(&model.Client{}), tc)
	if err != nil {
		return nil, err
	}
	if f.TenantID != nil {
		q = q.Where("clients.tenant_id = ?", *f.TenantID)
	}
	if f.ClientType != "" {
		q = q.Where("clients.client_type = ?", f.ClientType)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(clients.reference) LIKE ? OR LOWER(clients.full_name) LIKE ? OR LOWER(clients.corporate_name) LIKE ? OR LOWER(clients.national_id) LIKE ?",
			like, like, like, like)
	}

	var clients []model.Client
	if err := q.Order("clients.created_at DESC").Order("clients.id DESC").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// Get returns one client visible to the caller
func (s *ClientService) Get(ctx context.Context, tc *authz.TenantContext, id uint) (*model.Client, error) {
	return s.get(s.db.WithContext(ctx), tc, id)
}

func (s *ClientService) get(db *gorm.DB, tc *authz.TenantContext, id uint) (*model.Client, error) {
	q, err := scopedClients(db.Model(&model.Client{}), tc)
	if err != nil {
		return nil, err
	}
	var client model.Client
	err = q.Where("clients.id = ?", id).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "client %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// targetTenant decides which tenant a new client belongs to. Scoped callers
// always write into their resolved tenant; unscoped callers must name one.
func targetTenant(tx *gorm.DB, tc *authz.TenantContext, requested *uint) (*model.Tenant, error) {
	scope, err := tenantScope(tc)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		return tc.Tenant, nil
	}
	if requested == nil || *requested == 0 {
		return nil, invalid("tenant_id", "This field is required when no tenant context is selected.")
	}
	var tenant model.Tenant
	err = tx.Where("id = ? AND active = ?", *requested, true).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invalid("tenant_id", "Unknown or inactive tenant.")
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// Create stores a new client and assigns its reference
func (s *ClientService) Create(ctx context.Context, tc *authz.TenantContext, in ClientInput) (*model.Client, error) {
	in.clean()
	if err := in.validate(); err != nil {
		return nil, err
	}

	var client *model.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		client, err = s.create(tx, tc, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	prometheus.RecordOperation("client_create")
	logger.FromStdContext(ctx).Info("Client created",
		zap.Uint("client_id", client.ID),
		zap.String("reference", client.Reference),
		zap.Uint("tenant_id", client.TenantID))
	return client, nil
}

func (s *ClientService) create(tx *gorm.DB, tc *authz.TenantContext, in ClientInput) (*model.Client, error) {
	tenant, err := targetTenant(tx, tc, in.TenantID)
	if err != nil {
		return nil, err
	}
	ref, err := nextReference(tx, in.ClientType.ReferencePrefix())
	if err != nil {
		return nil, err
	}
	client := &model.Client{TenantID: tenant.ID, Reference: ref}
	in.apply(client)
	if tc != nil && tc.Principal != nil {
		creator := tc.Principal.UserID
		client.CreatedByID = &creator
	}
	if err := tx.Create(client).Error; err != nil {
		return nil, err
	}
	return client, nil
}

// Update replaces the writable fields of a client. The reference and the
// owning tenant never change.
func (s *ClientService) Update(ctx context.Context, tc *authz.TenantContext, id uint, in ClientInput) (*model.Client, error) {
	in.clean()
	if err := in.validate(); err != nil {
		return nil, err
	}
	client, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	in.apply(client)
	err = s.db.WithContext(ctx).Model(client).Select(
		"client_type", "full_name", "national_id", "corporate_name", "ubo", "nature_of_business",
		"brn", "vat", "email", "phone", "address", "city",
	).Updates(client).Error
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Delete removes a client with its documents, assessments and answers
func (s *ClientService) Delete(ctx context.Context, tc *authz.TenantContext, id uint) error {
	var docs []model.KycDocument
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.get(tx, tc, id)
		if err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", client.ID).Find(&docs).Error; err != nil {
			return err
		}
		assessmentIDs := tx.Model(&model.Assessment{}).Select("id").Where("client_id = ?", client.ID)
		if err := tx.Where("assessment_id IN (?)", assessmentIDs).Delete(&model.AssessmentAnswer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", client.ID).Delete(&model.Assessment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", client.ID).Delete(&model.KycDocument{}).Error; err != nil {
			return err
		}
		return tx.Delete(client).Error
	})
	if err != nil {
		return err
	}

	log := logger.FromStdContext(ctx)
	if s.store != nil {
		for _, d := range docs {
			if err := s.store.Delete(ctx, d.Path); err != nil {
				log.Warn("Failed to remove document object", zap.String("path", d.Path), zap.Error(err))
			}
		}
	}
	log.Info("Client deleted", zap.Uint("client_id", id), zap.Int("documents", len(docs)))
	return nil
}

// MirrorEnabled reports whether the external database is available
func (s *ClientService) MirrorEnabled() bool {
	return s.mirror != nil && s.mirror.Enabled()
}

// ImportResult summarises an external client import
type ImportResult struct {
	Fetched  int                     `json:"fetched"`
	Imported int                     `json:"imported"`
	Skipped  int                     `json:"skipped"`
	Clients  []model.Client          `json:"clients"`
	Preview  []mirror.ExternalClient `json:"preview,omitempty"`
}

// ImportExternal reads clients from the external database. Without doImport
// the rows are only returned for preview. When importing, a row matching an
// existing client of the same tenant by national id, then email, then name
// and phone, is skipped.
func (s *ClientService) ImportExternal(ctx context.Context, tc *authz.TenantContext, limit int, doImport bool) (*ImportResult, error) {
	if !tc.Can(authz.UseExternalMirror) {
		return nil, newError(ErrForbidden, "you do not have permission to use the external database")
	}
	if !s.MirrorEnabled() {
		return nil, ErrMirrorDisabled
	}

	rows, err := s.mirror.FetchClients(ctx, limit)
	prometheus.RecordMirrorOperation("fetch_clients", err)
	if errors.Is(err, mirror.ErrUnavailable) {
		logger.FromStdContext(ctx).Warn("External database unreachable, treating mirror as disabled", zap.Error(err))
		return nil, newError(ErrMirrorDisabled, "external connector unavailable")
	}
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Fetched: len(rows), Clients: []model.Client{}}
	if !doImport {
		result.Preview = rows
		return result, nil
	}
	if tc.TenantID() == nil {
		return nil, invalid("tenant", "Select a tenant to import clients into.")
	}
	tenantID := *tc.TenantID()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			dup, err := findDuplicate(tx, tenantID, row)
			if err != nil {
				return err
			}
			if dup {
				result.Skipped++
				continue
			}
			in := ClientInput{
				ClientType:       model.ClientType(row.ClientType),
				FullName:         row.FullName,
				NationalID:       row.NationalID,
				CorporateName:    row.CorporateName,
				UBO:              row.UBO,
				NatureOfBusiness: row.NatureOfBusiness,
				BRN:              row.BRN,
				VAT:              row.VAT,
				Email:            row.Email,
				Phone:            row.Phone,
				Address:          row.Address,
				City:             row.City,
			}
			in.clean()
			if in.validate() != nil {
				result.Skipped++
				continue
			}
			client, err := s.create(tx, tc, in)
			if err != nil {
				return err
			}
			result.Clients = append(result.Clients, *client)
			result.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromStdContext(ctx).Info("External clients imported",
		zap.Uint("tenant_id", tenantID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func findDuplicate(tx *gorm.DB, tenantID uint, row mirror.ExternalClient) (bool, error) {
	q := tx.Model(&model.Client{}).Where("tenant_id = ?", tenantID)
	switch {
	case row.NationalID != "":
		q = q.Where("national_id = ?", row.NationalID)
	case row.Email != "":
		q = q.Where("LOWER(email) = ?", strings.ToLower(row.Email))
	case row.FullName != "" && row.Phone != "":
		q = q.Where("full_name = ? AND phone = ?", row.FullName, row.Phone)
	default:
		return false, nil
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// PushResultInput records an assessment outcome for a client and forwards it
type PushResultInput struct {
	ClientID        uint
	ClientReference string
	TotalScore      int
	RiskLevel       model.RiskLevel
	Status          model.AssessmentStatus
	Data            datatypes.JSONMap
}

// PushResultOutput is the stored assessment and whether the mirror accepted it
type PushResultOutput struct {
	Assessment     *model.Assessment `json:"assessment"`
	ExternalPushed bool              `json:"external_pushed"`
	ExternalError  string            `json:"external_error,omitempty"`
}

// PushResults creates an assessment for the client and writes it to the
// external results table. A failed push keeps the local assessment.
func (s *ClientService) PushResults(ctx context.Context, tc *authz.TenantContext, in PushResultInput) (*PushResultOutput, error) {
	if !tc.Can(authz.UseExternalMirror) {
		return nil, newError(ErrForbidden, "you do not have permission to use the external database")
	}
	if !s.MirrorEnabled() {
		return nil, ErrMirrorDisabled
	}

	verr := &ValidationError{}
	if in.ClientID == 0 && strings.TrimSpace(in.ClientReference) == "" {
		verr.Add("client_id", "Either client_id or client_reference is required.")
	}
	if in.RiskLevel != "" && !in.RiskLevel.Valid() {
		verr.Add("risk_level", "Must be one of low, medium, high.")
	}
	if in.Status == "" {
		in.Status = model.AssessmentSubmitted
	}
	if !in.Status.Valid() {
		verr.Add("status", "Must be one of pending, submitted, approved, rejected.")
	} else if in.Status.Reviewed() && !tc.Can(authz.ReviewAssessments) {
		return nil, newError(ErrForbidden, "you do not have permission to review assessments")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	q, err := scopedClients(s.db.WithContext(ctx).Model(&model.Client{}), tc)
	if err != nil {
		return nil, err
	}
	if in.ClientID != 0 {
		q = q.Where("clients.id = ?", in.ClientID)
	} else {
		q = q.Where("clients.reference = ?", strings.TrimSpace(in.ClientReference))
	}
	var client model.Client
	if err := q.Preload("Tenant").First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "client not found")
		}
		return nil, err
	}

	assessment := &model.Assessment{
		ClientID:    client.ID,
		Status:      in.Status,
		TotalScore:  in.TotalScore,
		SubmittedAt: time.Now().UTC(),
	}
	if in.RiskLevel != "" {
		risk := in.RiskLevel
		assessment.RiskLevel = &risk
	}
	if tc.Principal != nil {
		submitter := tc.Principal.UserID
		assessment.SubmittedByID = &submitter
	}
	if err := s.db.WithContext(ctx).Create(assessment).Error; err != nil {
		return nil, err
	}
	assessment.Client = &client
	prometheus.RecordOperation("assessment_create")

	out := &PushResultOutput{Assessment: assessment}
	if err := s.mirror.PushResult(ctx, resultFor(assessment, &client, in.Data)); err != nil {
		prometheus.RecordMirrorOperation("push_result", err)
		logger.FromStdContext(ctx).Warn("Failed to push result to external database",
			zap.Uint("assessment_id", assessment.ID), zap.Error(err))
		out.ExternalError = err.Error()
		return out, nil
	}
	prometheus.RecordMirrorOperation("push_result", nil)
	out.ExternalPushed = true
	return out, nil
}

func resultFor(a *model.Assessment, c *model.Client, extra datatypes.JSONMap) mirror.Result {
	r := mirror.Result{
		AssessmentID:    a.ID,
		ClientReference: c.Reference,
		ClientName:      c.Name(),
		TotalScore:      a.TotalScore,
		Status:          string(a.Status),
		SubmittedAt:     a.SubmittedAt,
		Extra:           extra,
	}
	if a.RiskLevel != nil {
		r.RiskLevel = string(*a.RiskLevel)
	}
	if c.Tenant != nil {
		r.TenantCode = c.Tenant.Code
	}
	return r
}

