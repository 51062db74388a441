package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/mirror"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/internal/storage"
	"github.com/AviOnlineSec/cra/internal/testutil"
	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/AviOnlineSec/cra/pkg/jwtutil"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type stubMirror struct {
	enabled  bool
	clients  []mirror.ExternalClient
	pushed   []mirror.Result
	fetchErr error
}

func (m *stubMirror) Enabled() bool { return m.enabled }

func (m *stubMirror) FetchClients(_ context.Context, _ int) ([]mirror.ExternalClient, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.clients, nil
}

func (m *stubMirror) PushResult(_ context.Context, r mirror.Result) error {
	m.pushed = append(m.pushed, r)
	return nil
}

type testServer struct {
	e        *echo.Echo
	db       *gorm.DB
	jwt      *jwtutil.JWTUtil
	notifier *testutil.RecordingNotifier
	mirror   *stubMirror
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewTestDB(t)
	j := jwtutil.NewJWTUtil(&config.JWTConfig{
		SigningKey:      "handler-test",
		AccessLifetime:  time.Minute,
		RefreshLifetime: time.Hour,
	})
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	notifier := &testutil.RecordingNotifier{}
	m := &stubMirror{}
	tenants := service.NewTenantService(db)

	h := &Handler{
		Identity:       service.NewIdentityService(db, j, notifier),
		Approvals:      service.NewApprovalService(db, notifier),
		Tenants:        tenants,
		Clients:        service.NewClientService(db, store, m),
		Documents:      service.NewDocumentService(db, store, 1<<20),
		Catalog:        service.NewCatalogService(db),
		Assessments:    service.NewAssessmentService(db, m),
		Reports:        service.NewReportService(db, time.UTC),
		MaxUploadBytes: 1 << 20,
	}

	e := echo.New()
	e.Validator = NewValidator()
	e.Pre(echomiddleware.RemoveTrailingSlash())
	resolver := middleware.NewTenantResolver(tenants, nil, "", config.TenantConfig{Header: "X-Tenant-ID"})
	h.Routes(e, middleware.AuthMiddleware(j), resolver.Middleware())

	return &testServer{e: e, db: db, jwt: j, notifier: notifier, mirror: m}
}

func (s *testServer) token(t *testing.T, u *model.User) string {
	t.Helper()
	pair, err := s.jwt.GeneratePair(jwtutil.UserClaims{
		UserID:      u.ID,
		Email:       u.Email,
		Role:        string(u.Role),
		IsSuperuser: u.IsSuperuser,
	})
	if err != nil {
		t.Fatal(err)
	}
	return pair.Access
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	tenant *model.Tenant
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}
	if c.tenant != nil {
		req.Header.Set("X-Tenant-ID", strconv.FormatUint(uint64(c.tenant.ID), 10))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, want, rec.Body.String())
	}
}

func TestRegistrationApprovalAndLogin(t *testing.T) {
	s := newTestServer(t)
	admin := testutil.CreateUser(t, s.db, "admin@example.com", "adminpass", testutil.WithRole(model.RoleAdmin))

	rec := s.do(t, call{method: http.MethodPost, path: "/api/users/register/", body: map[string]string{
		"email":            "new@example.com",
		"first_name":       "New",
		"last_name":        "User",
		"password":         "password123",
		"password_confirm": "password123",
	}})
	expectStatus(t, rec, http.StatusCreated)
	var registered struct {
		User struct {
			ID         uint `json:"id"`
			IsApproved bool `json:"is_approved"`
		} `json:"user"`
	}
	decode(t, rec, &registered)
	if registered.User.IsApproved {
		t.Error("new account must not be approved")
	}

	// pending accounts cannot log in
	rec = s.do(t, call{method: http.MethodPost, path: "/api/token", body: map[string]string{
		"email": "new@example.com", "password": "password123",
	}})
	expectStatus(t, rec, http.StatusUnauthorized)

	// a regular user cannot approve
	user := testutil.CreateUser(t, s.db, "user@example.com", "userpass")
	rec = s.do(t, call{method: http.MethodPost, path: "/api/users/approvals/approve_user", token: s.token(t, user),
		body: map[string]interface{}{"user_id": registered.User.ID, "action": "approve"}})
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/users/approvals/approve_user/", token: s.token(t, admin),
		body: map[string]interface{}{"user_id": registered.User.ID, "action": "approve"}})
	expectStatus(t, rec, http.StatusOK)
	var approved struct {
		TemporaryPassword string `json:"temporary_password"`
		Approval          struct {
			Status     string `json:"status"`
			ApprovedBy *uint  `json:"approved_by"`
		} `json:"approval"`
	}
	decode(t, rec, &approved)
	if approved.Approval.Status != "approved" || approved.Approval.ApprovedBy == nil || *approved.Approval.ApprovedBy != admin.ID {
		t.Errorf("approval = %+v", approved.Approval)
	}
	if len(approved.TemporaryPassword) < 12 {
		t.Fatalf("temporary password %q too short", approved.TemporaryPassword)
	}

	// approval is terminal
	rec = s.do(t, call{method: http.MethodPost, path: "/api/users/approvals/approve_user", token: s.token(t, admin),
		body: map[string]interface{}{"user_id": registered.User.ID, "action": "reject"}})
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/token", body: map[string]string{
		"email": "new@example.com", "password": approved.TemporaryPassword,
	}})
	expectStatus(t, rec, http.StatusOK)
	var login struct {
		Access             string `json:"access"`
		Refresh            string `json:"refresh"`
		MustChangePassword bool   `json:"must_change_password"`
	}
	decode(t, rec, &login)
	if login.Access == "" || login.Refresh == "" || !login.MustChangePassword {
		t.Errorf("login = %+v", login)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/token/refresh", body: map[string]string{"refresh": login.Refresh}})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/token/verify", body: map[string]string{"token": "garbage"}})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/users/change-password", token: login.Access, body: map[string]string{
		"old_password":     approved.TemporaryPassword,
		"new_password":     "a-better-password",
		"new_password_confirm": "a-better-password",
	}})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/users/me", token: login.Access})
	expectStatus(t, rec, http.StatusOK)
	var me struct {
		Email              string `json:"email"`
		MustChangePassword bool   `json:"must_change_password"`
	}
	decode(t, rec, &me)
	if me.Email != "new@example.com" || me.MustChangePassword {
		t.Errorf("me = %+v", me)
	}

	kinds := []string{}
	for _, m := range s.notifier.Messages {
		kinds = append(kinds, m.Kind)
	}
	if strings.Join(kinds, ",") != "registration,approved" {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: http.MethodPost, path: "/api/users/register", body: map[string]string{
		"email":            "not-an-email",
		"password":         "password123",
		"password_confirm": "password123",
	}})
	expectStatus(t, rec, http.StatusBadRequest)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, rec, &body)
	if body.Fields["email"] == "" {
		t.Errorf("fields = %v, want an email error", body.Fields)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/users/me", "/api/tenants", "/api/clients"} {
		rec := s.do(t, call{method: http.MethodGet, path: path})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestTenantScopedRoutesRequireTenant(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	t2 := testutil.CreateTenant(t, s.db, "BR2", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	token := s.token(t, user)

	routes := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/clients"},
		{http.MethodPost, "/api/clients"},
		{http.MethodGet, "/api/clients/1"},
		{http.MethodPatch, "/api/clients/1"},
		{http.MethodDelete, "/api/clients/1"},
		{http.MethodGet, "/api/clients/import-external"},
		{http.MethodPost, "/api/clients/push-results"},
		{http.MethodGet, "/api/kyc-documents"},
		{http.MethodPost, "/api/kyc-documents"},
		{http.MethodGet, "/api/kyc-documents/1"},
		{http.MethodGet, "/api/kyc-documents/1/download"},
		{http.MethodDelete, "/api/kyc-documents/1"},
		{http.MethodGet, "/api/categories"},
		{http.MethodPost, "/api/categories"},
		{http.MethodPut, "/api/categories/1"},
		{http.MethodGet, "/api/questions"},
		{http.MethodPost, "/api/questions"},
		{http.MethodDelete, "/api/questions/1"},
		{http.MethodGet, "/api/answers"},
		{http.MethodPost, "/api/answers"},
		{http.MethodPost, "/api/answers/bulk"},
		{http.MethodPost, "/api/answers/replace"},
		{http.MethodPatch, "/api/answers/1"},
		{http.MethodGet, "/api/assessments"},
		{http.MethodPost, "/api/assessments"},
		{http.MethodPatch, "/api/assessments/1"},
		{http.MethodPost, "/api/assessments/1/push-external"},
		{http.MethodGet, "/api/reports/monthly?start_date=2024-01-01&end_date=2024-12-31"},
		{http.MethodGet, "/api/reports/yearly?start_year=2024&end_year=2024"},
	}
	cases := []struct {
		name   string
		tenant *model.Tenant
		want   string
	}{
		{"no tenant", nil, middleware.MsgTenantRequired},
		{"foreign tenant", t2, middleware.MsgTenantNotAllowed},
	}
	for _, tc := range cases {
		for _, r := range routes {
			t.Run(tc.name+" "+r.method+" "+r.path, func(t *testing.T) {
				rec := s.do(t, call{method: r.method, path: r.path, token: token, tenant: tc.tenant})
				expectStatus(t, rec, http.StatusForbidden)
				var denied map[string]string
				decode(t, rec, &denied)
				if denied["error"] != tc.want {
					t.Errorf("error = %q, want %q", denied["error"], tc.want)
				}
			})
		}
	}
}

func TestClientRoutesEnforceTenant(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	t2 := testutil.CreateTenant(t, s.db, "BR2", true)
	alice := testutil.CreateUser(t, s.db, "alice@example.com", "secret123")
	bob := testutil.CreateUser(t, s.db, "bob@example.com", "secret123")
	testutil.AddMembership(t, s.db, alice.ID, t1.ID, true)
	testutil.AddMembership(t, s.db, bob.ID, t2.ID, true)
	aliceToken, bobToken := s.token(t, alice), s.token(t, bob)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/clients", token: aliceToken})
	expectStatus(t, rec, http.StatusForbidden)
	var denied map[string]string
	decode(t, rec, &denied)
	if denied["error"] != middleware.MsgTenantRequired {
		t.Errorf("error = %q", denied["error"])
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients", token: aliceToken, tenant: t2})
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/clients/", token: aliceToken, tenant: t1,
		body: map[string]string{"client_type": "individual", "full_name": "Jane Doe", "email": "jane@example.com"}})
	expectStatus(t, rec, http.StatusCreated)
	var client model.Client
	decode(t, rec, &client)
	if client.Reference != "INDI-1100001" || client.TenantID != t1.ID {
		t.Fatalf("client = %+v", client)
	}
	path := "/api/clients/" + strconv.FormatUint(uint64(client.ID), 10)

	// another tenant's client looks like it does not exist
	rec = s.do(t, call{method: http.MethodGet, path: path, token: bobToken, tenant: t2})
	expectStatus(t, rec, http.StatusNotFound)
	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients", token: bobToken, tenant: t2})
	expectStatus(t, rec, http.StatusOK)
	var bobs []model.Client
	decode(t, rec, &bobs)
	if len(bobs) != 0 {
		t.Errorf("bob sees %d clients, want 0", len(bobs))
	}

	// partial update keeps the other fields and the reference
	rec = s.do(t, call{method: http.MethodPatch, path: path, token: aliceToken, tenant: t1,
		body: map[string]string{"city": "Port Louis"}})
	expectStatus(t, rec, http.StatusOK)
	var updated model.Client
	decode(t, rec, &updated)
	if updated.City != "Port Louis" || updated.FullName != "Jane Doe" || updated.Reference != "INDI-1100001" {
		t.Errorf("updated = %+v", updated)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/clients", token: aliceToken, tenant: t1,
		body: map[string]string{"client_type": "corporate"}})
	expectStatus(t, rec, http.StatusBadRequest)
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, rec, &verr)
	if verr.Fields["corporate_name"] == "" {
		t.Errorf("fields = %v", verr.Fields)
	}

	rec = s.do(t, call{method: http.MethodDelete, path: path, token: aliceToken, tenant: t1})
	expectStatus(t, rec, http.StatusNoContent)
	rec = s.do(t, call{method: http.MethodGet, path: path, token: aliceToken, tenant: t1})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAdminWorksWithoutTenant(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	testutil.CreateClient(t, s.db, t1.ID, "INDI-1100001", "Jane Doe")
	admin := testutil.CreateUser(t, s.db, "admin@example.com", "adminpass", testutil.WithRole(model.RoleAdmin))

	rec := s.do(t, call{method: http.MethodGet, path: "/api/clients", token: s.token(t, admin)})
	expectStatus(t, rec, http.StatusOK)
	var clients []model.Client
	decode(t, rec, &clients)
	if len(clients) != 1 {
		t.Errorf("admin sees %d clients, want 1", len(clients))
	}
}

func TestExternalMirrorDisabled(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	client := testutil.CreateClient(t, s.db, t1.ID, "INDI-1100001", "Jane Doe")

	rec := s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external", token: s.token(t, user), tenant: t1})
	expectStatus(t, rec, http.StatusNotImplemented)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/clients/push-results", token: s.token(t, user), tenant: t1,
		body: map[string]interface{}{"client_id": client.ID, "total_score": 12, "risk_level": "low"}})
	expectStatus(t, rec, http.StatusNotImplemented)
}

func TestImportExternalUnreachableMirror(t *testing.T) {
	s := newTestServer(t)
	s.mirror.enabled = true
	s.mirror.fetchErr = fmt.Errorf("fetch external clients: %w: %w", mirror.ErrUnavailable, errors.New("dial tcp: connection refused"))
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external?import=true", token: s.token(t, user), tenant: t1})
	expectStatus(t, rec, http.StatusNotImplemented)
	var body struct {
		Error   string `json:"error"`
		Enabled *bool  `json:"enabled"`
	}
	decode(t, rec, &body)
	if body.Error != "external connector unavailable" || body.Enabled == nil || *body.Enabled {
		t.Errorf("body = %+v", body)
	}
}

func TestImportExternalAndPushResults(t *testing.T) {
	s := newTestServer(t)
	s.mirror.enabled = true
	s.mirror.clients = []mirror.ExternalClient{
		{ClientType: "individual", FullName: "Ext One", NationalID: "N1", Email: "one@example.com"},
		{ClientType: "individual", FullName: "Ext Two", NationalID: "N2"},
	}
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	token := s.token(t, user)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external?limit=10", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	var preview service.ImportResult
	decode(t, rec, &preview)
	if preview.Fetched != 2 || preview.Imported != 0 || len(preview.Preview) != 2 {
		t.Errorf("preview = %+v", preview)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external?import=true", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	var imported service.ImportResult
	decode(t, rec, &imported)
	if imported.Imported != 2 || imported.Skipped != 0 {
		t.Errorf("import = %+v", imported)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external?import=1", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &imported)
	if imported.Imported != 0 || imported.Skipped != 2 {
		t.Errorf("second import = %+v", imported)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients/import-external?limit=abc", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/clients/push-results", token: token, tenant: t1,
		body: map[string]interface{}{"client_reference": "INDI-1100001", "total_score": 12, "risk_level": "low"}})
	expectStatus(t, rec, http.StatusCreated)
	var pushed struct {
		ExternalPushed bool `json:"external_pushed"`
		Assessment     struct {
			ID     uint   `json:"id"`
			Status string `json:"status"`
		} `json:"assessment"`
	}
	decode(t, rec, &pushed)
	if !pushed.ExternalPushed || pushed.Assessment.Status != "submitted" {
		t.Errorf("push = %+v", pushed)
	}
	if len(s.mirror.pushed) != 1 {
		t.Errorf("mirror received %d results, want 1", len(s.mirror.pushed))
	}

	rec = s.do(t, call{method: http.MethodPost,
		path:  "/api/assessments/" + strconv.FormatUint(uint64(pushed.Assessment.ID), 10) + "/push-external",
		token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	if len(s.mirror.pushed) != 2 {
		t.Errorf("mirror received %d results, want 2", len(s.mirror.pushed))
	}
}

func TestCatalogRequiresManageCapability(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	compliance := testutil.CreateUser(t, s.db, "compliance@example.com", "secret123", testutil.WithRole(model.RoleCompliance))
	testutil.AddMembership(t, s.db, compliance.ID, t1.ID, true)

	category := map[string]interface{}{"name": "Geography", "display_order": 1}
	rec := s.do(t, call{method: http.MethodPost, path: "/api/categories", token: s.token(t, user), tenant: t1, body: category})
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/categories", token: s.token(t, compliance), tenant: t1, body: category})
	expectStatus(t, rec, http.StatusCreated)
	var created model.Category
	decode(t, rec, &created)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/questions", token: s.token(t, compliance), tenant: t1,
		body: map[string]interface{}{
			"category_id": created.ID,
			"text":        "Country of residence",
			"options": []map[string]interface{}{
				{"text": "Domestic", "score": 1},
				{"text": "High risk jurisdiction", "score": 10},
			},
		}})
	expectStatus(t, rec, http.StatusCreated)
	var question model.Question
	decode(t, rec, &question)
	if question.FieldType != model.FieldSelect || len(question.Options) != 2 {
		t.Fatalf("question = %+v", question)
	}

	// an update without options keeps them
	qpath := "/api/questions/" + strconv.FormatUint(uint64(question.ID), 10)
	rec = s.do(t, call{method: http.MethodPatch, path: qpath, token: s.token(t, compliance), tenant: t1,
		body: map[string]interface{}{"text": "Country of tax residence"}})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &question)
	if question.Text != "Country of tax residence" || len(question.Options) != 2 {
		t.Errorf("question = %+v", question)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/categories", token: s.token(t, user), tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	var categories []model.Category
	decode(t, rec, &categories)
	if len(categories) != 1 || len(categories[0].Questions) != 1 {
		t.Errorf("categories = %+v", categories)
	}
}

func TestAssessmentAnswersFlow(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	client := testutil.CreateClient(t, s.db, t1.ID, "INDI-1100001", "Jane Doe")
	q1 := testutil.CreateQuestion(t, s.db, "Second", 2)
	q2 := testutil.CreateQuestion(t, s.db, "First", 1)
	token := s.token(t, user)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/assessments", token: token, tenant: t1,
		body: map[string]interface{}{"client_id": client.ID, "total_score": 6, "risk_level": "medium"}})
	expectStatus(t, rec, http.StatusCreated)
	var a model.Assessment
	decode(t, rec, &a)
	if a.Status != model.AssessmentPending {
		t.Errorf("status = %s, want pending", a.Status)
	}
	apath := "/api/assessments/" + strconv.FormatUint(uint64(a.ID), 10)

	// only reviewers may approve
	rec = s.do(t, call{method: http.MethodPatch, path: apath, token: token, tenant: t1, body: map[string]string{"status": "approved"}})
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/answers/bulk", token: token, tenant: t1,
		body: []map[string]interface{}{
			{"assessment_id": a.ID, "question_id": q1.ID, "selected_value": "High", "score_value": 5},
			{"assessment_id": a.ID, "question_id": q2.ID, "selected_value": "Low", "score_value": 1},
		}})
	expectStatus(t, rec, http.StatusCreated)
	var bulk struct {
		Created int `json:"created"`
	}
	decode(t, rec, &bulk)
	if bulk.Created != 2 {
		t.Errorf("created = %d", bulk.Created)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/answers?assessment=" + strconv.FormatUint(uint64(a.ID), 10), token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	var answers []model.AssessmentAnswer
	decode(t, rec, &answers)
	if len(answers) != 2 || answers[0].QuestionID != q2.ID {
		t.Errorf("answers not in question display order: %+v", answers)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/answers/replace", token: token, tenant: t1,
		body: map[string]interface{}{
			"assessment_id": a.ID,
			"answers":       []map[string]interface{}{{"question_id": q1.ID, "selected_value": "Low", "score_value": 1}},
		}})
	expectStatus(t, rec, http.StatusCreated)
	var replaced struct {
		Replaced int `json:"replaced"`
	}
	decode(t, rec, &replaced)
	if replaced.Replaced != 1 {
		t.Errorf("replaced = %d", replaced.Replaced)
	}

	rec = s.do(t, call{method: http.MethodPost, path: "/api/answers/replace", token: token, tenant: t1,
		body: map[string]interface{}{"assessment_id": a.ID}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, call{method: http.MethodGet, path: apath, token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &a)
	if len(a.Answers) != 1 || a.Answers[0].SelectedValue != "Low" {
		t.Errorf("answers after replace = %+v", a.Answers)
	}
}

func TestMonthlyReport(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	client := testutil.CreateClient(t, s.db, t1.ID, "INDI-1100001", "Jane Doe")
	testutil.CreateAssessment(t, s.db, client.ID, time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	testutil.CreateAssessment(t, s.db, client.ID, time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC))
	testutil.CreateAssessment(t, s.db, client.ID, time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC))
	testutil.CreateAssessment(t, s.db, client.ID, time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC))
	token := s.token(t, user)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing dates", "", http.StatusBadRequest},
		{"bad format", "?start_date=2024/01/01&end_date=2024-02-29", http.StatusBadRequest},
		{"end before start", "?start_date=2024-03-01&end_date=2024-02-01", http.StatusBadRequest},
		{"valid", "?start_date=2024-01-01&end_date=2024-02-29", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, call{method: http.MethodGet, path: "/api/reports/monthly" + tt.query, token: token, tenant: t1})
			expectStatus(t, rec, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var report struct {
				Summary map[string]int `json:"summary"`
				Details []struct {
					ClientReference string `json:"client_reference"`
					ScoreLevel      string `json:"score_level"`
				} `json:"details"`
			}
			decode(t, rec, &report)
			if report.Summary["2024-01"] != 2 || report.Summary["2024-02"] != 1 || len(report.Summary) != 2 {
				t.Errorf("summary = %v", report.Summary)
			}
			if len(report.Details) != 3 || report.Details[0].ClientReference != "INDI-1100001" || report.Details[0].ScoreLevel != "medium" {
				t.Errorf("details = %+v", report.Details)
			}
		})
	}

	rec := s.do(t, call{method: http.MethodGet, path: "/api/reports/yearly?start_year=2024&end_year=2024", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	var yearly struct {
		Summary map[string]int `json:"summary"`
	}
	decode(t, rec, &yearly)
	if yearly.Summary["2024"] != 4 {
		t.Errorf("yearly summary = %v", yearly.Summary)
	}
}

func TestDocumentUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	t1 := testutil.CreateTenant(t, s.db, "BR1", true)
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	testutil.AddMembership(t, s.db, user.ID, t1.ID, true)
	client := testutil.CreateClient(t, s.db, t1.ID, "INDI-1100001", "Jane Doe")
	token := s.token(t, user)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("client", strconv.FormatUint(uint64(client.ID), 10)); err != nil {
		t.Fatal(err)
	}
	fw, err := w.CreateFormFile("file", "passport.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("%PDF-1.4 test"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/kyc-documents", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("X-Tenant-ID", strconv.FormatUint(uint64(t1.ID), 10))
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	var doc model.KycDocument
	decode(t, rec, &doc)
	if !strings.HasPrefix(doc.Path, "kyc_docs/jane-doe/") || doc.OriginalName != "passport.pdf" {
		t.Errorf("doc = %+v", doc)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/kyc-documents/" + strconv.FormatUint(uint64(doc.ID), 10) + "/download", token: token, tenant: t1})
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "%PDF-1.4 test" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "passport.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// missing file
	buf.Reset()
	w = multipart.NewWriter(&buf)
	w.WriteField("client", strconv.FormatUint(uint64(client.ID), 10))
	w.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/kyc-documents", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("X-Tenant-ID", strconv.FormatUint(uint64(t1.ID), 10))
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestTenantAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := testutil.CreateUser(t, s.db, "admin@example.com", "adminpass", testutil.WithRole(model.RoleAdmin))
	user := testutil.CreateUser(t, s.db, "user@example.com", "secret123")
	adminToken := s.token(t, admin)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/tenants", token: s.token(t, user),
		body: map[string]string{"name": "Branch", "code": "br9"}})
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/tenants", token: adminToken,
		body: map[string]string{"name": "Branch", "code": "br9", "kind": "branch"}})
	expectStatus(t, rec, http.StatusCreated)
	var tenant model.Tenant
	decode(t, rec, &tenant)
	if tenant.Code != "BR9" {
		t.Errorf("code = %q, want BR9", tenant.Code)
	}
	base := "/api/tenants/" + strconv.FormatUint(uint64(tenant.ID), 10) + "/memberships"

	rec = s.do(t, call{method: http.MethodPost, path: base, token: adminToken,
		body: map[string]interface{}{"user_id": user.ID, "role": "officer"}})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/tenants/me", token: s.token(t, user)})
	expectStatus(t, rec, http.StatusOK)
	var mine []model.Membership
	decode(t, rec, &mine)
	if len(mine) != 1 || mine[0].TenantID != tenant.ID {
		t.Errorf("memberships = %+v", mine)
	}

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients", token: s.token(t, user), tenant: &tenant})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, call{method: http.MethodDelete, path: base + "/" + strconv.FormatUint(uint64(user.ID), 10), token: adminToken})
	expectStatus(t, rec, http.StatusNoContent)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/clients", token: s.token(t, user), tenant: &tenant})
	expectStatus(t, rec, http.StatusForbidden)
}
