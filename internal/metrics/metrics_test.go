package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestReleasesTotal_Increments(t *testing.T) {
	ReleasesTotal.Reset()

	ReleasesTotal.WithLabelValues("released").Inc()
	ReleasesTotal.WithLabelValues("released").Inc()
	ReleasesTotal.WithLabelValues("busy").Inc()

	m := &dto.Metric{}
	counter, err := ReleasesTotal.GetMetricWithLabelValues("released")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if got := m.Counter.GetValue(); got != 2.0 {
		t.Errorf("releases_total{result=released} = %f, want 2", got)
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		301: "3xx",
		404: "4xx",
		409: "4xx",
		500: "5xx",
		502: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %s, want %s", code, got, want)
		}
	}
}
