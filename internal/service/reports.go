package service

import (
	"context"
	"sort"
	"time"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Report periods
const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

var periodFormats = map[string]struct {
	layout string
	trunc  string
	pgFmt  string
}{
	PeriodMonthly: {layout: "2006-01", trunc: "month", pgFmt: "YYYY-MM"},
	PeriodYearly:  {layout: "2006", trunc: "year", pgFmt: "YYYY"},
}

// ReportService counts assessments per month or year
type ReportService struct {
	db  *gorm.DB
	loc *time.Location
}

// NewReportService creates a report service grouping dates in loc
func NewReportService(db *gorm.DB, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{db: db, loc: loc}
}

// ReportRow is one assessment in the report range
type ReportRow struct {
	AssessmentID    uint                   `json:"assessment_id"`
	ClientReference string                 `json:"client_reference"`
	ClientName      string                 `json:"client_name"`
	RiskLevel       *model.RiskLevel       `json:"score_level"`
	TotalScore      int                    `json:"total_score"`
	Status          model.AssessmentStatus `json:"approval_status"`
	SubmittedAt     time.Time              `json:"submitted_at"`
}

// Report holds the bucket counts and the rows they were counted from
type Report struct {
	Period  string         `json:"period"`
	Start   string         `json:"start_date"`
	End     string         `json:"end_date"`
	Counts  map[string]int `json:"summary"`
	Details []ReportRow    `json:"details"`
}

// Monthly counts assessments per YYYY-MM between start and end inclusive
func (s *ReportService) Monthly(ctx context.Context, tc *authz.TenantContext, start, end time.Time) (*Report, error) {
	return s.build(ctx, tc, PeriodMonthly, start, end)
}

// Yearly counts assessments per YYYY between start and end inclusive
func (s *ReportService) Yearly(ctx context.Context, tc *authz.TenantContext, start, end time.Time) (*Report, error) {
	return s.build(ctx, tc, PeriodYearly, start, end)
}

// Range turns two dates into the half-open interval covering both days in
// the report time zone
func (s *ReportService) Range(start, end time.Time) (time.Time, time.Time) {
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)
	to := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	return from.UTC(), to.UTC()
}

func (s *ReportService) build(ctx context.Context, tc *authz.TenantContext, period string, start, end time.Time) (*Report, error) {
	if end.Before(start) {
		return nil, invalid("end_date", "Must not be before start_date.")
	}
	from, to := s.Range(start, end)
	defer prometheus.TrackDBOperation("report_" + period)(time.Now())

	base := func() (*gorm.DB, error) {
		q, err := scopedAssessments(s.db.WithContext(ctx), tc)
		if err != nil {
			return nil, err
		}
		return q.Where("assessments.submitted_at >= ? AND assessments.submitted_at < ?", from, to), nil
	}

	q, err := base()
	if err != nil {
		return nil, err
	}
	var assessments []model.Assessment
	if err := q.Preload("Client").Order("assessments.submitted_at").Order("assessments.id").Find(&assessments).Error; err != nil {
		return nil, err
	}

	report := &Report{
		Period:  period,
		Start:   start.Format("2006-01-02"),
		End:     end.Format("2006-01-02"),
		Details: make([]ReportRow, 0, len(assessments)),
	}
	for _, a := range assessments {
		row := ReportRow{
			AssessmentID: a.ID,
			RiskLevel:    a.RiskLevel,
			TotalScore:   a.TotalScore,
			Status:       a.Status,
			SubmittedAt:  a.SubmittedAt,
		}
		if a.Client != nil {
			row.ClientReference = a.Client.Reference
			row.ClientName = a.Client.Name()
		}
		report.Details = append(report.Details, row)
	}

	if s.db.Dialector.Name() == "postgres" {
		counts, err := s.countInDatabase(base, period)
		if err == nil {
			report.Counts = counts
			return report, nil
		}
		logger.FromStdContext(ctx).Warn("Database grouping failed, grouping in process",
			zap.String("period", period), zap.Error(err))
	}
	report.Counts = s.countInProcess(assessments, period)
	return report, nil
}

func (s *ReportService) countInDatabase(base func() (*gorm.DB, error), period string) (map[string]int, error) {
	f := periodFormats[period]
	q, err := base()
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Bucket string
		Total  int
	}
	err = q.Select("to_char(date_trunc(?, assessments.submitted_at AT TIME ZONE ?), ?) AS bucket, COUNT(*) AS total",
		f.trunc, s.loc.String(), f.pgFmt).
		Group("bucket").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Bucket] = r.Total
	}
	return counts, nil
}

func (s *ReportService) countInProcess(assessments []model.Assessment, period string) map[string]int {
	layout := periodFormats[period].layout
	counts := map[string]int{}
	for _, a := range assessments {
		counts[a.SubmittedAt.In(s.loc).Format(layout)]++
	}
	return counts
}

// Buckets returns the count keys in ascending order
func (r *Report) Buckets() []string {
	keys := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
