package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryRendersSortedCollectors(t *testing.T) {
	reg := NewRegistry()
	events := NewCounterVec(Opts{Name: "b_events_total", Help: "Events."}, []string{"type"})
	subs := NewGauge(Opts{Name: "a_subscribers", Help: "Subscribers."})
	reg.MustRegister(events, subs)

	subs.Inc()
	subs.Inc()
	subs.Dec()
	events.WithLabelValues("upsert").Inc()
	events.WithLabelValues("upsert").Add(2)
	events.WithLabelValues("delete").Inc()
	events.WithLabelValues("too", "many").Inc()

	out := reg.Render()
	if strings.Index(out, "a_subscribers") > strings.Index(out, "b_events_total") {
		t.Fatalf("collectors not sorted by name:\n%s", out)
	}
	for _, want := range []string{
		"a_subscribers 1\n",
		`b_events_total{type="delete"} 1` + "\n",
		`b_events_total{type="upsert"} 3` + "\n",
		"# TYPE b_events_total counter\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if got := events.Value("upsert"); got != 3 {
		t.Fatalf("events.Value(upsert) = %v, want 3", got)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewGauge(Opts{Name: "dup"}))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.MustRegister(NewGauge(Opts{Name: "dup"}))
}

func TestHandlerEscapesLabels(t *testing.T) {
	reg := NewRegistry()
	vec := NewCounterVec(Opts{Name: "c", Help: "h"}, []string{"err"})
	reg.MustRegister(vec)
	vec.WithLabelValues("say \"hi\"\n").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `c{err="say \"hi\"\n"} 1`) {
		t.Fatalf("labels not escaped: %s", rec.Body.String())
	}
}
