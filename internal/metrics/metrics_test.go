// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveInvocation("steve", OutcomeSuccess, 20*time.Millisecond)
	m.ObserveInvocation("steve", OutcomeSuccess, 30*time.Millisecond)
	m.ObserveInvocation("tom", OutcomeInvalid, 0)
	m.ObserveTransition("running")
	m.ObserveBuild(Outcome(errors.New("boom")))
	m.SubscriptionStarted()
	m.SubscriptionStarted()
	m.SubscriptionEnded()

	if got := testutil.ToFloat64(m.Invocations.WithLabelValues("steve", OutcomeSuccess)); got != 2 {
		t.Errorf("steve invocations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Invocations.WithLabelValues("tom", OutcomeInvalid)); got != 1 {
		t.Errorf("tom invocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("running")); got != 1 {
		t.Errorf("running transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Builds.WithLabelValues(OutcomeFailure)); got != 1 {
		t.Errorf("failed builds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSubscriptions); got != 1 {
		t.Errorf("active subscriptions = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveInvocation("a", OutcomeSuccess, time.Second)
	m.ObserveTransition("stopped")
	m.ObserveBuild(OutcomeSuccess)
	m.SubscriptionStarted()
	m.SubscriptionEnded()
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveInvocation("steve", OutcomeSuccess, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`msrun_invocations_total{action="steve",outcome="success"} 1`,
		"msrun_invocation_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
