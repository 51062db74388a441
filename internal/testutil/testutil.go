// Package testutil provides an in-memory database and fixtures for tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/database"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbCounter int64

// NewTestDB opens a private in-memory SQLite database with the full schema
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	// One connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// HashPassword hashes with the minimum bcrypt cost to keep tests fast
func HashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

// CreateTenant inserts an active tenant, or an inactive one when active is false
func CreateTenant(t *testing.T, db *gorm.DB, code string, active bool) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{
		Name:   "Tenant " + code,
		Code:   code,
		Kind:   model.TenantKindBranch,
		Active: active,
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// UserOption customises a fixture user
type UserOption func(*model.User)

// WithRole sets the user's role
func WithRole(role model.Role) UserOption {
	return func(u *model.User) { u.Role = role }
}

// Superuser marks the user as superuser
func Superuser() UserOption {
	return func(u *model.User) { u.IsSuperuser = true }
}

// Unapproved leaves the user inactive and unapproved
func Unapproved() UserOption {
	return func(u *model.User) {
		u.IsActive = false
		u.IsApproved = false
	}
}

// CreateUser inserts an active, approved user with the given password
func CreateUser(t *testing.T, db *gorm.DB, email, password string, opts ...UserOption) *model.User {
	t.Helper()
	user := &model.User{
		Username:   email,
		Email:      email,
		Password:   HashPassword(t, password),
		FirstName:  "Test",
		LastName:   strings.SplitN(email, "@", 2)[0],
		Role:       model.RoleUser,
		IsActive:   true,
		IsApproved: true,
	}
	for _, opt := range opts {
		opt(user)
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	// Zero-value booleans are skipped on create when a column default exists
	if err := db.Model(user).Updates(map[string]interface{}{
		"is_active":   user.IsActive,
		"is_approved": user.IsApproved,
	}).Error; err != nil {
		t.Fatalf("update user flags: %v", err)
	}
	return user
}

// AddMembership links a user to a tenant
func AddMembership(t *testing.T, db *gorm.DB, userID, tenantID uint, active bool) *model.Membership {
	t.Helper()
	m := &model.Membership{UserID: userID, TenantID: tenantID, Role: "officer", Active: active}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return m
}

// CreateClient inserts a client with an explicit reference
func CreateClient(t *testing.T, db *gorm.DB, tenantID uint, reference, name string) *model.Client {
	t.Helper()
	client := &model.Client{
		ClientType: model.ClientIndividual,
		TenantID:   tenantID,
		Reference:  reference,
		FullName:   name,
	}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

// CreateAssessment inserts an assessment submitted at the given time
func CreateAssessment(t *testing.T, db *gorm.DB, clientID uint, submittedAt time.Time) *model.Assessment {
	t.Helper()
	risk := model.RiskMedium
	a := &model.Assessment{
		ClientID:    clientID,
		Status:      model.AssessmentSubmitted,
		RiskLevel:   &risk,
		TotalScore:  10,
		SubmittedAt: submittedAt.UTC(),
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	return a
}

// CreateQuestion inserts a category with one select question and two options
func CreateQuestion(t *testing.T, db *gorm.DB, text string, order int) *model.Question {
	t.Helper()
	category := &model.Category{Name: "Category for " + text}
	if err := db.Create(category).Error; err != nil {
		t.Fatalf("create category: %v", err)
	}
	q := &model.Question{
		CategoryID:   category.ID,
		Text:         text,
		FieldType:    model.FieldSelect,
		DisplayOrder: order,
		Options: []model.Option{
			{Text: "Low", Score: 1},
			{Text: "High", Score: 5},
		},
	}
	if err := db.Create(q).Error; err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}
