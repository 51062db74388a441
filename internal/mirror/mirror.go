// Package mirror is the optional one-way bridge to an external relational
// database: clients are read from it and assessment results are written to it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AviOnlineSec/cra/pkg/config"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrDisabled = errors.New("external database is not enabled")
	// ErrUnavailable wraps driver and connection failures of an enabled mirror
	ErrUnavailable = errors.New("external connector unavailable")
)

const defaultClientsQuery = "SELECT * FROM clients"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Mirror talks to the external database. A Mirror whose connection could not
// be established behaves as disabled.
type Mirror struct {
	db  *gorm.DB
	cfg config.ExternalDBConfig
}

// New connects to the configured external database. Connection failures are
// logged and produce a disabled mirror rather than an error.
func New(cfg config.ExternalDBConfig, log *zap.Logger) *Mirror {
	m := &Mirror{cfg: cfg}
	if !cfg.Enabled {
		return m
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.New(postgres.Config{DSN: cfg.GetDSN(), PreferSimpleProtocol: true})
	default:
		dialector = mysql.Open(cfg.GetDSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		log.Warn("External database unavailable, mirror disabled",
			zap.String("driver", cfg.Driver),
			zap.String("host", cfg.Host),
			zap.Error(err))
		return m
	}
	m.db = db
	log.Info("External database connected", zap.String("driver", cfg.Driver), zap.String("host", cfg.Host))
	return m
}

// NewWithDB wraps an existing connection
func NewWithDB(db *gorm.DB, cfg config.ExternalDBConfig) *Mirror {
	cfg.Enabled = true
	return &Mirror{db: db, cfg: cfg}
}

// Enabled reports whether the mirror is configured and connected
func (m *Mirror) Enabled() bool {
	return m != nil && m.cfg.Enabled && m.db != nil
}

// Close releases the external connection
func (m *Mirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ExternalClient is a client row read from the external database
type ExternalClient struct {
	ExternalID       string            `json:"external_id"`
	ClientType       string            `json:"client_type"`
	FullName         string            `json:"full_name"`
	NationalID       string            `json:"national_id"`
	CorporateName    string            `json:"corporate_name"`
	UBO              string            `json:"ubo"`
	NatureOfBusiness string            `json:"nature_of_business"`
	BRN              string            `json:"brn"`
	VAT              string            `json:"vat"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	Address          string            `json:"address"`
	City             string            `json:"city"`
	Raw              datatypes.JSONMap `json:"raw"`
}

// FetchClients runs the configured clients query with the given row limit
func (m *Mirror) FetchClients(ctx context.Context, limit int) ([]ExternalClient, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = 100
	}

	query := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m.cfg.ClientsQuery), ";"))
	if query == "" {
		query = defaultClientsQuery
	}
	if !strings.Contains(query, "?") {
		query += " LIMIT ?"
	}

	var rows []map[string]interface{}
	if err := m.db.WithContext(ctx).Raw(query, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch external clients: %w: %w", ErrUnavailable, err)
	}

	clients := make([]ExternalClient, 0, len(rows))
	for _, row := range rows {
		clients = append(clients, normalize(row))
	}
	return clients, nil
}

// Result is one assessment outcome written to the results table
type Result struct {
	AssessmentID    uint
	ClientReference string
	ClientName      string
	TenantCode      string
	TotalScore      int
	RiskLevel       string
	Status          string
	SubmittedAt     time.Time
	Extra           datatypes.JSONMap
}

// PushResult inserts r into the configured results table
func (m *Mirror) PushResult(ctx context.Context, r Result) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	table := m.cfg.ResultsTable
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid results table name %q", table)
	}

	row := map[string]interface{}{
		"assessment_id":    r.AssessmentID,
		"client_reference": r.ClientReference,
		"client_name":      r.ClientName,
		"tenant_code":      r.TenantCode,
		"total_score":      r.TotalScore,
		"risk_level":       r.RiskLevel,
		"status":           r.Status,
		"submitted_at":     r.SubmittedAt.UTC(),
		"payload":          r.Extra,
		"pushed_at":        time.Now().UTC(),
	}
	if r.Extra == nil {
		row["payload"] = datatypes.JSONMap{}
	}
	if err := m.db.WithContext(ctx).Table(table).Create(row).Error; err != nil {
		return fmt.Errorf("push result to %s: %w: %w", table, ErrUnavailable, err)
	}
	return nil
}

var fieldAliases = map[string][]string{
	"external_id":        {"id", "external_id", "client_id"},
	"client_type":        {"client_type", "clientType", "type"},
	"full_name":          {"full_name", "fullName", "name"},
	"national_id":        {"national_id", "nationalId", "nic"},
	"corporate_name":     {"corporate_name", "corporateName", "company_name"},
	"ubo":                {"ubo", "UBO"},
	"nature_of_business": {"nature_of_business", "natureOfBusiness"},
	"brn":                {"brn", "BRN"},
	"vat":                {"vat", "VAT"},
	"email":              {"email"},
	"phone":              {"phone", "phone_number", "phoneNumber"},
	"address":            {"address"},
	"city":               {"city"},
}

func normalize(row map[string]interface{}) ExternalClient {
	raw := datatypes.JSONMap{}
	for k, v := range row {
		raw[k] = plain(v)
	}
	get := func(field string) string {
		for _, key := range fieldAliases[field] {
			if v, ok := row[key]; ok && v != nil {
				return strings.TrimSpace(toString(v))
			}
		}
		return ""
	}

	clientType := strings.ToLower(get("client_type"))
	if strings.HasPrefix(clientType, "corp") {
		clientType = "corporate"
	} else {
		clientType = "individual"
	}

	return ExternalClient{
		ExternalID:       get("external_id"),
		ClientType:       clientType,
		FullName:         get("full_name"),
		NationalID:       get("national_id"),
		CorporateName:    get("corporate_name"),
		UBO:              get("ubo"),
		NatureOfBusiness: get("nature_of_business"),
		BRN:              get("brn"),
		VAT:              get("vat"),
		Email:            strings.ToLower(get("email")),
		Phone:            get("phone"),
		Address:          get("address"),
		City:             get("city"),
		Raw:              raw,
	}
}

// plain converts driver values into JSON friendly ones
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
