package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *ClientMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading exposition: %v", err)
	}
	return string(body)
}

func TestClientMetrics_Observe(t *testing.T) {
	m := NewClientMetrics()
	m.ObservePoll("job", "ok", 20*time.Millisecond)
	m.ObservePoll("job", "ok", 30*time.Millisecond)
	m.ObservePoll("agent", "error", time.Millisecond)
	m.ObserveStream("ok", 5, time.Second)
	m.ObserveProxy("GET", 502, time.Millisecond)

	out := scrape(t, m)
	for _, want := range []string{
		`mtalk_polls_total{outcome="ok",source="job"} 2`,
		`mtalk_polls_total{outcome="error",source="agent"} 1`,
		`mtalk_chat_streams_total{outcome="ok"} 1`,
		`mtalk_chat_stream_chunks_sum 5`,
		`mtalk_proxy_requests_total{code="502",method="GET"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %s", want)
		}
	}
}

func TestClientMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewClientMetrics(), NewClientMetrics()
	a.ObserveStream("error", 0, time.Millisecond)
	if strings.Contains(scrape(t, b), `mtalk_chat_streams_total{outcome="error"}`) {
		t.Error("second registry saw the first registry's stream")
	}
}
