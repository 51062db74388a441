package service

import (
	"context"
	"errors"
	"time"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/notify"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Approval actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// ApprovalService runs the registration approval state machine
type ApprovalService struct {
	db       *gorm.DB
	notifier notify.Notifier
	now      func() time.Time
}

// NewApprovalService creates an approval service
func NewApprovalService(db *gorm.DB, notifier notify.Notifier) *ApprovalService {
	return &ApprovalService{db: db, notifier: notifier, now: time.Now}
}

// List returns approvals, newest request first, optionally filtered by status
func (s *ApprovalService) List(ctx context.Context, p *authz.Principal, status string) ([]model.UserApproval, error) {
	if !authz.Can(p, authz.ManageApprovals) {
		return nil, newError(ErrForbidden, "Only administrators can view approvals")
	}

	q := s.db.WithContext(ctx).Preload("User").Order("requested_at DESC").Order("id DESC")
	if status != "" {
		st := model.ApprovalStatus(status)
		if st != model.ApprovalPending && st != model.ApprovalApproved && st != model.ApprovalRejected {
			return nil, invalid("status", "Must be one of pending, approved, rejected.")
		}
		q = q.Where("status = ?", st)
	}

	var approvals []model.UserApproval
	if err := q.Find(&approvals).Error; err != nil {
		return nil, err
	}

	if status == "" || status == string(model.ApprovalPending) {
		pending := 0
		for _, a := range approvals {
			if a.Status == model.ApprovalPending {
				pending++
			}
		}
		prometheus.UpdatePendingApprovals(pending)
	}
	return approvals, nil
}

// Get returns one approval record
func (s *ApprovalService) Get(ctx context.Context, p *authz.Principal, id uint) (*model.UserApproval, error) {
	if !authz.Can(p, authz.ManageApprovals) {
		return nil, newError(ErrForbidden, "Only administrators can view approvals")
	}
	var approval model.UserApproval
	err := s.db.WithContext(ctx).Preload("User").First(&approval, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "approval %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

// Open creates a pending approval for a user who has none, such as an
// account created by an operator outside of self-registration
func (s *ApprovalService) Open(ctx context.Context, p *authz.Principal, userID uint) (*model.UserApproval, error) {
	if !authz.Can(p, authz.ManageApprovals) {
		return nil, newError(ErrForbidden, "Only administrators can manage approvals")
	}

	approval := &model.UserApproval{UserID: userID, Status: model.ApprovalPending}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalid("user_id", "Unknown user.")
			}
			return err
		}
		var count int64
		if err := tx.Model(&model.UserApproval{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return newError(ErrConflict, "user %d already has an approval record", userID)
		}
		if err := tx.Create(approval).Error; err != nil {
			return err
		}
		approval.User = &user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// Decision is an approve or reject request for a user
type Decision struct {
	UserID          uint
	Action          string
	RejectionReason string
}

// DecisionResult is the outcome of a decision. TemporaryPassword is only set
// on approval.
type DecisionResult struct {
	Approval          *model.UserApproval
	User              *model.User
	TemporaryPassword string
}

// Decide approves or rejects a pending registration. Only pending approvals
// can be decided; a decided approval is terminal.
func (s *ApprovalService) Decide(ctx context.Context, p *authz.Principal, d Decision) (*DecisionResult, error) {
	if !authz.Can(p, authz.ManageApprovals) {
		return nil, newError(ErrForbidden, "Only administrators can approve users")
	}

	verr := &ValidationError{}
	if d.UserID == 0 {
		verr.Add("user_id", "This field is required.")
	}
	if d.Action != ActionApprove && d.Action != ActionReject {
		verr.Add("action", "Must be approve or reject.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	log := logger.FromStdContext(ctx)
	result := &DecisionResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approval model.UserApproval
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", d.UserID).
			First(&approval).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrNotFound, "Approval record not found")
		}
		if err != nil {
			return err
		}
		if approval.Status != model.ApprovalPending {
			return newError(ErrConflict, "Approval has already been %s", approval.Status)
		}

		var user model.User
		if err := tx.First(&user, d.UserID).Error; err != nil {
			return err
		}

		now := s.now()
		approverID := p.UserID
		approval.ApprovedAt = &now
		approval.ApprovedByID = &approverID

		if d.Action == ActionApprove {
			temp, err := GenerateTempPassword(TempPasswordLength)
			if err != nil {
				return err
			}
			hash, err := hashPassword(temp)
			if err != nil {
				return err
			}
			if err := tx.Model(&user).Updates(map[string]interface{}{
				"password":             hash,
				"is_active":            true,
				"is_approved":          true,
				"must_change_password": true,
			}).Error; err != nil {
				return err
			}
			user.IsActive, user.IsApproved, user.MustChangePassword = true, true, true
			approval.Status = model.ApprovalApproved
			approval.TemporaryPassword = hash
			result.TemporaryPassword = temp
		} else {
			if err := tx.Model(&user).Update("is_active", false).Error; err != nil {
				return err
			}
			user.IsActive = false
			approval.Status = model.ApprovalRejected
			approval.RejectionReason = cleanText(d.RejectionReason)
		}

		if err := tx.Model(&approval).Updates(map[string]interface{}{
			"status":             approval.Status,
			"approved_at":        approval.ApprovedAt,
			"approved_by_id":     approval.ApprovedByID,
			"temporary_password": approval.TemporaryPassword,
			"rejection_reason":   approval.RejectionReason,
		}).Error; err != nil {
			return err
		}

		approval.User = &user
		result.Approval = &approval
		result.User = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	prometheus.RecordApprovalDecision(d.Action)
	log.Info("Registration decided",
		zap.Uint("user_id", d.UserID),
		zap.String("action", d.Action),
		zap.Uint("approved_by", p.UserID))

	if d.Action == ActionApprove {
		if err := s.notifier.AccountApproved(ctx, result.User, result.TemporaryPassword); err != nil {
			prometheus.RecordNotificationFailure("approved")
			log.Warn("Failed to send approval email", zap.Uint("user_id", d.UserID), zap.Error(err))
		}
	} else {
		if err := s.notifier.AccountRejected(ctx, result.User, result.Approval.RejectionReason); err != nil {
			prometheus.RecordNotificationFailure("rejected")
			log.Warn("Failed to send rejection email", zap.Uint("user_id", d.UserID), zap.Error(err))
		}
	}
	return result, nil
}
