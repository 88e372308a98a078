package jobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	// Registering the same collectors twice must fail.
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	m.IncJobsTotal(JobTypeRankingRun, StatusSuccess)
	m.IncJobsTotal(JobTypeRankingRun, StatusSuccess)
	m.IncJobsTotal(JobTypeFeedFanout, StatusFailure)
	m.ObserveJobDuration(JobTypeRankingRun, 1.5)
	m.IncJobErrors(JobTypeRankingRun, "scoring_error")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error = %v", err)
	}

	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	total, ok := byName[MetricBackgroundJobsTotal]
	if !ok {
		t.Fatalf("missing metric %s", MetricBackgroundJobsTotal)
	}
	var rankingSuccess float64
	for _, metric := range total.GetMetric() {
		labels := make(map[string]string)
		for _, l := range metric.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["job_type"] == JobTypeRankingRun && labels["status"] == StatusSuccess {
			rankingSuccess = metric.GetCounter().GetValue()
		}
	}
	if rankingSuccess != 2 {
		t.Errorf("ranking_run success count = %v, want 2", rankingSuccess)
	}

	if _, ok := byName[MetricBackgroundJobsDuration]; !ok {
		t.Errorf("missing metric %s", MetricBackgroundJobsDuration)
	}
	if _, ok := byName[MetricBackgroundJobErrorsTotal]; !ok {
		t.Errorf("missing metric %s", MetricBackgroundJobErrorsTotal)
	}
}
