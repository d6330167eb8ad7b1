package usecase

import (
	"sort"
	"time"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

const unspecifiedInterest = "Sin especificar"

type DashboardMetrics struct {
	TotalLeads      int     `json:"total_leads"`
	LeadsLast7Days  int     `json:"leads_last_7_days"`
	LeadsLast30Days int     `json:"leads_last_30_days"`
	ConversionRate  float64 `json:"conversion_rate"`
}

type StageMetric struct {
	Stage      entity.Stage `json:"stage"`
	Count      int          `json:"count"`
	Percentage float64      `json:"percentage"`
}

type PropertyMetric struct {
	PropertyType string  `json:"property_type"`
	Count        int     `json:"count"`
	Percentage   float64 `json:"percentage"`
}

type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type DashboardReport struct {
	Metrics         DashboardMetrics  `json:"metrics"`
	StageMetrics    []StageMetric     `json:"stage_metrics"`
	PropertyMetrics []PropertyMetric  `json:"property_metrics"`
	DailyLeads      []TimeSeriesPoint `json:"daily_leads"`
	IsLoading       bool              `json:"is_loading"`
	Error           string            `json:"error,omitempty"`
}

// LeadSource is satisfied by the pipeline synchronizer.
type LeadSource interface {
	State() PipelineState
}

type DashboardService struct {
	source LeadSource
	now    func() time.Time
}

func NewDashboardService(source LeadSource) *DashboardService {
	return &DashboardService{source: source, now: time.Now}
}

func (d *DashboardService) Report() DashboardReport {
	state := d.source.State()
	now := d.now()

	return DashboardReport{
		Metrics:         ComputeMetrics(state.Leads, now),
		StageMetrics:    ComputeStageMetrics(state.Leads),
		PropertyMetrics: ComputePropertyMetrics(state.Leads),
		DailyLeads:      ComputeDailyLeads(state.Leads, now, 30),
		IsLoading:       state.IsLoading,
		Error:           state.Error,
	}
}

func ComputeMetrics(leads []entity.Lead, now time.Time) DashboardMetrics {
	sevenDaysAgo := now.Add(-7 * 24 * time.Hour)
	thirtyDaysAgo := now.Add(-30 * 24 * time.Hour)

	m := DashboardMetrics{TotalLeads: len(leads)}
	won := 0
	for _, l := range leads {
		if !l.CreatedAt.Before(sevenDaysAgo) {
			m.LeadsLast7Days++
		}
		if !l.CreatedAt.Before(thirtyDaysAgo) {
			m.LeadsLast30Days++
		}
		if l.Stage == entity.StageDealWon {
			won++
		}
	}

	m.ConversionRate = percentage(won, len(leads))
	return m
}

func ComputeStageMetrics(leads []entity.Lead) []StageMetric {
	counts := make(map[entity.Stage]int, len(entity.PipelineStages))
	for _, l := range leads {
		counts[l.Stage]++
	}

	out := make([]StageMetric, 0, len(entity.PipelineStages))
	for _, stage := range entity.PipelineStages {
		out = append(out, StageMetric{
			Stage:      stage,
			Count:      counts[stage],
			Percentage: percentage(counts[stage], len(leads)),
		})
	}
	return out
}

// ComputePropertyMetrics groups leads by interest, largest group first.
func ComputePropertyMetrics(leads []entity.Lead) []PropertyMetric {
	counts := map[string]int{}
	for _, l := range leads {
		key := l.PropertyInterest
		if key == "" {
			key = unspecifiedInterest
		}
		counts[key]++
	}

	out := make([]PropertyMetric, 0, len(counts))
	for name, n := range counts {
		out = append(out, PropertyMetric{
			PropertyType: name,
			Count:        n,
			Percentage:   percentage(n, len(leads)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].PropertyType < out[j].PropertyType
	})
	return out
}

// ComputeDailyLeads counts leads per UTC day for the last `days` days,
// oldest first, including today.
func ComputeDailyLeads(leads []entity.Lead, now time.Time, days int) []TimeSeriesPoint {
	today := now.UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(days - 1))

	index := make(map[string]int, days)
	out := make([]TimeSeriesPoint, days)
	for i := 0; i < days; i++ {
		date := first.AddDate(0, 0, i).Format("2006-01-02")
		out[i] = TimeSeriesPoint{Date: date}
		index[date] = i
	}

	for _, l := range leads {
		if i, ok := index[l.CreatedAt.UTC().Format("2006-01-02")]; ok {
			out[i].Count++
		}
	}
	return out
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
