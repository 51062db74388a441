package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/testutil"
)

func TestAssessmentReviewNeedsCapability(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	reviewer := testutil.CreateUser(t, db, "compliance@example.com", "secret123", testutil.WithRole(model.RoleCompliance))
	testutil.AddMembership(t, db, reviewer.ID, tenant.ID, true)
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")

	svc := NewAssessmentService(db, nil)
	submitted := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return submitted }
	ctx := context.Background()

	risk := model.RiskLow
	a, err := svc.Create(ctx, scopedTo(user, tenant), AssessmentInput{ClientID: client.ID, RiskLevel: &risk, TotalScore: 4})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != model.AssessmentPending || !a.SubmittedAt.Equal(submitted) {
		t.Errorf("created = %+v", a)
	}

	_, err = svc.Update(ctx, scopedTo(user, tenant), a.ID, AssessmentInput{Status: model.AssessmentApproved, RiskLevel: &risk})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("plain user approving err = %v", err)
	}

	svc.now = func() time.Time { return submitted.Add(48 * time.Hour) }
	high := model.RiskHigh
	updated, err := svc.Update(ctx, scopedTo(reviewer, tenant), a.ID, AssessmentInput{Status: model.AssessmentApproved, RiskLevel: &high, TotalScore: 30})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.AssessmentApproved || *updated.RiskLevel != model.RiskHigh || updated.TotalScore != 30 {
		t.Errorf("updated = %+v", updated)
	}

	var stored model.Assessment
	db.First(&stored, a.ID)
	if !stored.SubmittedAt.Equal(submitted) {
		t.Errorf("submitted_at changed to %v", stored.SubmittedAt)
	}
}

func TestReviewedAssessmentIsLockedForPlainUsers(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	reviewer := testutil.CreateUser(t, db, "compliance@example.com", "secret123", testutil.WithRole(model.RoleCompliance))
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")
	x := testutil.CreateQuestion(t, db, "x", 1)
	y := testutil.CreateQuestion(t, db, "y", 2)
	a := testutil.CreateAssessment(t, db, client.ID, time.Now())

	svc := NewAssessmentService(db, nil)
	ctx := context.Background()
	userCtx := scopedTo(user, tenant)
	reviewerCtx := scopedTo(reviewer, tenant)

	answers, err := svc.BulkCreateAnswers(ctx, userCtx, []AnswerInput{{AssessmentID: a.ID, QuestionID: x.ID, SelectedValue: "High", ScoreValue: 5}})
	if err != nil {
		t.Fatal(err)
	}
	high := model.RiskHigh
	if _, err := svc.Update(ctx, reviewerCtx, a.ID, AssessmentInput{Status: model.AssessmentApproved, RiskLevel: &high, TotalScore: 30}); err != nil {
		t.Fatal(err)
	}

	low := model.RiskLow
	writes := []struct {
		name string
		fn   func() error
	}{
		{"reopen", func() error {
			_, err := svc.Update(ctx, userCtx, a.ID, AssessmentInput{Status: model.AssessmentSubmitted, RiskLevel: &low, TotalScore: 1})
			return err
		}},
		{"replace answers", func() error {
			_, err := svc.ReplaceAnswers(ctx, userCtx, a.ID, []AnswerInput{{QuestionID: y.ID, SelectedValue: "Low", ScoreValue: 1}})
			return err
		}},
		{"clear answers", func() error {
			_, err := svc.ReplaceAnswers(ctx, userCtx, a.ID, nil)
			return err
		}},
		{"add answer", func() error {
			_, err := svc.CreateAnswer(ctx, userCtx, AnswerInput{AssessmentID: a.ID, QuestionID: y.ID, SelectedValue: "Low", ScoreValue: 1})
			return err
		}},
		{"update answer", func() error {
			_, err := svc.UpdateAnswer(ctx, userCtx, answers[0].ID, AnswerInput{SelectedValue: "Low", ScoreValue: 1})
			return err
		}},
		{"delete answer", func() error {
			return svc.DeleteAnswer(ctx, userCtx, answers[0].ID)
		}},
	}
	for _, w := range writes {
		t.Run(w.name, func(t *testing.T) {
			if err := w.fn(); !errors.Is(err, ErrForbidden) {
				t.Errorf("err = %v, want forbidden", err)
			}
		})
	}

	var stored model.Assessment
	db.First(&stored, a.ID)
	if stored.Status != model.AssessmentApproved || stored.TotalScore != 30 || *stored.RiskLevel != model.RiskHigh {
		t.Errorf("reviewed assessment changed: %+v", stored)
	}
	kept, err := svc.ListAnswers(ctx, reviewerCtx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 1 || kept[0].QuestionID != x.ID || kept[0].ScoreValue != 5 {
		t.Errorf("answers of reviewed assessment changed: %+v", kept)
	}

	// a reviewer may still reopen it
	reopened, err := svc.Update(ctx, reviewerCtx, a.ID, AssessmentInput{Status: model.AssessmentSubmitted, RiskLevel: &low, TotalScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Status != model.AssessmentSubmitted {
		t.Errorf("status = %s, want submitted", reopened.Status)
	}
	if _, err := svc.ReplaceAnswers(ctx, userCtx, a.ID, nil); err != nil {
		t.Errorf("replace on reopened assessment: %v", err)
	}
}

func TestAssessmentCreateRejectsOtherTenantClient(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateTenant(t, db, "A", true)
	b := testutil.CreateTenant(t, db, "B", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, b.ID, "INDI-1100001", "Bob")
	svc := NewAssessmentService(db, nil)

	_, err := svc.Create(context.Background(), scopedTo(user, a), AssessmentInput{ClientID: client.ID})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["client"] == "" {
		t.Errorf("err = %v, want client validation error", err)
	}
}

func TestReplaceAnswers(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")
	x := testutil.CreateQuestion(t, db, "x", 1)
	y := testutil.CreateQuestion(t, db, "y", 2)
	z := testutil.CreateQuestion(t, db, "z", 3)
	a := testutil.CreateAssessment(t, db, client.ID, time.Now())

	svc := NewAssessmentService(db, nil)
	ctx := context.Background()
	tc := scopedTo(user, tenant)

	if _, err := svc.BulkCreateAnswers(ctx, tc, []AnswerInput{
		{AssessmentID: a.ID, QuestionID: x.ID, SelectedValue: "Low", ScoreValue: 1},
		{AssessmentID: a.ID, QuestionID: y.ID, SelectedValue: "High", ScoreValue: 5},
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := svc.ReplaceAnswers(ctx, tc, a.ID, []AnswerInput{{QuestionID: z.ID, SelectedValue: "High", ScoreValue: 5}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("replace returned %d rows", len(rows))
	}

	answers, err := svc.ListAnswers(ctx, tc, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 1 || answers[0].QuestionID != z.ID {
		t.Errorf("answers after replace = %+v", answers)
	}

	// an unknown question rolls the whole replace back
	_, err = svc.ReplaceAnswers(ctx, tc, a.ID, []AnswerInput{{QuestionID: x.ID}, {QuestionID: 9999}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
	answers, _ = svc.ListAnswers(ctx, tc, a.ID)
	if len(answers) != 1 || answers[0].QuestionID != z.ID {
		t.Errorf("answers after failed replace = %+v", answers)
	}
}

func TestAnswersOrderedByQuestion(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")
	late := testutil.CreateQuestion(t, db, "late", 9)
	early := testutil.CreateQuestion(t, db, "early", 1)
	a := testutil.CreateAssessment(t, db, client.ID, time.Now())

	svc := NewAssessmentService(db, nil)
	ctx := context.Background()
	tc := scopedTo(user, tenant)

	first, err := svc.CreateAnswer(ctx, tc, AnswerInput{AssessmentID: a.ID, QuestionID: late.ID, SelectedValue: "<b>High</b>", ScoreValue: 5})
	if err != nil {
		t.Fatal(err)
	}
	if first.SelectedValue != "High" {
		t.Errorf("selected value not cleaned: %q", first.SelectedValue)
	}
	if _, err := svc.CreateAnswer(ctx, tc, AnswerInput{AssessmentID: a.ID, QuestionID: early.ID, SelectedValue: "Low", ScoreValue: 1}); err != nil {
		t.Fatal(err)
	}

	answers, err := svc.ListAnswers(ctx, tc, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 || answers[0].QuestionID != early.ID || answers[1].QuestionID != late.ID {
		t.Errorf("answers = %+v", answers)
	}

	got, err := svc.Get(ctx, tc, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Answers) != 2 || got.Answers[0].QuestionID != early.ID {
		t.Errorf("preloaded answers = %+v", got.Answers)
	}

	updated, err := svc.UpdateAnswer(ctx, tc, first.ID, AnswerInput{SelectedValue: "Low", ScoreValue: 1})
	if err != nil {
		t.Fatal(err)
	}
	if updated.QuestionID != late.ID || updated.ScoreValue != 1 {
		t.Errorf("updated = %+v", updated)
	}

	if err := svc.DeleteAnswer(ctx, tc, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetAnswer(ctx, tc, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAnswer after delete err = %v", err)
	}
}

func TestAnswersHiddenAcrossTenants(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateTenant(t, db, "A", true)
	b := testutil.CreateTenant(t, db, "B", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, a.ID, "INDI-1100001", "Jane")
	q := testutil.CreateQuestion(t, db, "q", 1)
	assessment := testutil.CreateAssessment(t, db, client.ID, time.Now())

	svc := NewAssessmentService(db, nil)
	ctx := context.Background()

	_, err := svc.CreateAnswer(ctx, scopedTo(user, b), AnswerInput{AssessmentID: assessment.ID, QuestionID: q.ID})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["assessment"] == "" {
		t.Errorf("err = %v, want assessment validation error", err)
	}
	if _, err := svc.Get(ctx, scopedTo(user, b), assessment.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant Get err = %v", err)
	}
}

func TestAssessmentPushExternal(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")
	a := testutil.CreateAssessment(t, db, client.ID, time.Now())
	ctx := context.Background()

	if _, err := NewAssessmentService(db, nil).PushExternal(ctx, scopedTo(user, tenant), a.ID); !errors.Is(err, ErrMirrorDisabled) {
		t.Errorf("disabled err = %v", err)
	}

	m := &fakeMirror{enabled: true}
	out, err := NewAssessmentService(db, m).PushExternal(ctx, scopedTo(user, tenant), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.ExternalPushed || len(m.pushed) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if r := m.pushed[0]; r.AssessmentID != a.ID || r.ClientReference != "INDI-1100001" || r.TenantCode != "A" || r.RiskLevel != "medium" {
		t.Errorf("pushed = %+v", r)
	}
}

func TestDeleteAssessmentRemovesAnswers(t *testing.T) {
	db := testutil.NewTestDB(t)
	tenant := testutil.CreateTenant(t, db, "A", true)
	user := testutil.CreateUser(t, db, "officer@example.com", "secret123")
	client := testutil.CreateClient(t, db, tenant.ID, "INDI-1100001", "Jane")
	q := testutil.CreateQuestion(t, db, "q", 1)
	a := testutil.CreateAssessment(t, db, client.ID, time.Now())
	db.Create(&model.AssessmentAnswer{AssessmentID: a.ID, QuestionID: q.ID})

	svc := NewAssessmentService(db, nil)
	if err := svc.Delete(context.Background(), scopedTo(user, tenant), a.ID); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&model.AssessmentAnswer{}).Count(&count)
	if count != 0 {
		t.Errorf("answers left: %d", count)
	}
}
