package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

func leadAt(phone string, stage entity.Stage, interest string, created time.Time) entity.Lead {
	l := lead(phone, stage, interest)
	l.CreatedAt = created
	return l
}

type staticSource struct{ state PipelineState }

func (s staticSource) State() PipelineState { return s.state }

func TestComputeMetrics(t *testing.T) {
	now := time.Date(2025, 3, 31, 15, 0, 0, 0, time.UTC)
	leads := []entity.Lead{
		leadAt("1", entity.StageDealWon, "PH", now.Add(-time.Hour)),
		leadAt("2", entity.StageAIHandling, "Casa", now.AddDate(0, 0, -3)),
		leadAt("3", entity.StageDealWon, "PH", now.AddDate(0, 0, -10)),
		leadAt("4", entity.StageNurture, "", now.AddDate(0, 0, -45)),
	}

	m := ComputeMetrics(leads, now)

	assert.Equal(t, 4, m.TotalLeads)
	assert.Equal(t, 2, m.LeadsLast7Days)
	assert.Equal(t, 3, m.LeadsLast30Days)
	assert.InDelta(t, 50.0, m.ConversionRate, 1e-9)
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, time.Now())
	assert.Equal(t, DashboardMetrics{}, m)
}

func TestComputeStageMetrics(t *testing.T) {
	leads := []entity.Lead{
		lead("1", entity.StageDealWon, "PH"),
		lead("2", entity.StageDealWon, "PH"),
		lead("3", entity.StageAIHandling, "PH"),
		lead("4", entity.StageNurture, "PH"),
	}

	metrics := ComputeStageMetrics(leads)

	require.Len(t, metrics, len(entity.PipelineStages))
	for i, m := range metrics {
		assert.Equal(t, entity.PipelineStages[i], m.Stage)
	}
	assert.Equal(t, 1, metrics[0].Count)
	assert.InDelta(t, 25.0, metrics[0].Percentage, 1e-9)
	assert.Equal(t, 2, metrics[5].Count)
	assert.InDelta(t, 50.0, metrics[5].Percentage, 1e-9)
	assert.Equal(t, 0, metrics[3].Count)
	assert.Zero(t, metrics[3].Percentage)
}

func TestComputePropertyMetrics(t *testing.T) {
	leads := []entity.Lead{
		lead("1", entity.StageDealWon, "PH"),
		lead("2", entity.StageDealWon, "Casa"),
		lead("3", entity.StageAIHandling, ""),
		lead("4", entity.StageNurture, "Casa"),
		lead("5", entity.StageNurture, "Oficina"),
	}

	metrics := ComputePropertyMetrics(leads)

	require.Len(t, metrics, 4)
	assert.Equal(t, PropertyMetric{PropertyType: "Casa", Count: 2, Percentage: 40}, metrics[0])
	// ties sorted by name
	assert.Equal(t, "Oficina", metrics[1].PropertyType)
	assert.Equal(t, "PH", metrics[2].PropertyType)
	assert.Equal(t, "Sin especificar", metrics[3].PropertyType)
}

func TestComputeDailyLeads(t *testing.T) {
	now := time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)
	leads := []entity.Lead{
		leadAt("1", entity.StageDealWon, "PH", now),
		leadAt("2", entity.StageDealWon, "PH", now.Add(-2*time.Hour)),
		leadAt("3", entity.StageDealWon, "PH", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)),
		leadAt("4", entity.StageDealWon, "PH", time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)),
	}

	series := ComputeDailyLeads(leads, now, 30)

	require.Len(t, series, 30)
	assert.Equal(t, TimeSeriesPoint{Date: "2025-03-02", Count: 1}, series[0])
	assert.Equal(t, TimeSeriesPoint{Date: "2025-03-31", Count: 2}, series[29])

	total := 0
	for _, p := range series {
		total += p.Count
	}
	assert.Equal(t, 3, total, "a lead from before the window is not counted")
}

func TestDashboardReport(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	svc := NewDashboardService(staticSource{state: PipelineState{
		Leads:     []entity.Lead{leadAt("1", entity.StageDealWon, "PH", now)},
		IsLoading: true,
		Error:     "failed to load leads: timeout",
	}})
	svc.now = func() time.Time { return now }

	report := svc.Report()

	assert.Equal(t, 1, report.Metrics.TotalLeads)
	assert.InDelta(t, 100.0, report.Metrics.ConversionRate, 1e-9)
	assert.Len(t, report.StageMetrics, len(entity.PipelineStages))
	assert.Len(t, report.DailyLeads, 30)
	assert.True(t, report.IsLoading)
	assert.Equal(t, "failed to load leads: timeout", report.Error)
}
