package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nkovacs/vitald/internal/baseline"
	"github.com/nkovacs/vitald/internal/ingest"
	"github.com/nkovacs/vitald/internal/retention"
	"github.com/nkovacs/vitald/internal/storage"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := baseline.New(store, 60, 1, baseline.StdDevSample)
	ret := retention.New(store, retention.Policy{})
	coordinator := ingest.New(store, engine, ret, false)

	handler := NewHandler(Deps{
		Store:       store,
		Coordinator: coordinator,
		Token:       testToken,
		Location:    time.UTC,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, method, url, body string, authed bool) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/health", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestMetricsIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/metrics", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/days/2026-08-10/snapshot", "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/days/2026-08-10/snapshot", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	wrongResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer wrongResp.Body.Close()
	if wrongResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong-token status = %d, want 401", wrongResp.StatusCode)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	put := doRequest(t, "PUT", srv.URL+"/days/2026-08-10/snapshot",
		`{"metrics": {"hrv": 58.5, "sleep_score": 82}}`, true)
	if put.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", put.StatusCode)
	}
	var putBody struct {
		Changed  bool `json:"changed"`
		FreshDay bool `json:"fresh_day"`
	}
	decode(t, put, &putBody)
	if !putBody.Changed || !putBody.FreshDay {
		t.Errorf("put response = %+v", putBody)
	}

	get := doRequest(t, "GET", srv.URL+"/days/2026-08-10/snapshot", "", true)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", get.StatusCode)
	}
	var snap struct {
		Date    string             `json:"date"`
		Metrics map[string]float64 `json:"metrics"`
	}
	decode(t, get, &snap)
	if snap.Date != "2026-08-10" || snap.Metrics["hrv"] != 58.5 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/days/2026-08-10/snapshot", "", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPutSnapshotRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name, url, body string
	}{
		{"malformed date", srv.URL + "/days/2026-8-10/snapshot", `{"metrics": {"hrv": 58}}`},
		{"missing metrics", srv.URL + "/days/2026-08-10/snapshot", `{}`},
		{"unknown metric", srv.URL + "/days/2026-08-10/snapshot", `{"metrics": {"vibes": 10}}`},
		{"out of range", srv.URL + "/days/2026-08-10/snapshot", `{"metrics": {"sleep_score": 150}}`},
		{"not json", srv.URL + "/days/2026-08-10/snapshot", `nope`},
	}
	for _, tc := range cases {
		resp := doRequest(t, "PUT", tc.url, tc.body, true)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestListSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, date := range []string{"2026-08-10", "2026-08-12"} {
		resp := doRequest(t, "PUT", srv.URL+"/days/"+date+"/snapshot", `{"metrics": {"hrv": 58}}`, true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("put %s: status = %d", date, resp.StatusCode)
		}
	}

	resp := doRequest(t, "GET", srv.URL+"/snapshots?start=2026-08-01&end=2026-08-31", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var snaps []struct {
		Date string `json:"date"`
	}
	decode(t, resp, &snaps)
	if len(snaps) != 2 || snaps[0].Date != "2026-08-10" || snaps[1].Date != "2026-08-12" {
		t.Errorf("snapshots = %+v", snaps)
	}

	bad := doRequest(t, "GET", srv.URL+"/snapshots?start=nope&end=2026-08-31", "", true)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad range status = %d, want 400", bad.StatusCode)
	}
}

func TestInterventionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	post := doRequest(t, "POST", srv.URL+"/days/2026-08-10/interventions",
		`{"time": "21:30", "raw": "400mg magnesium"}`, true)
	if post.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d, want 201", post.StatusCode)
	}
	var created struct {
		ID   string `json:"id"`
		Time string `json:"time"`
		Raw  string `json:"raw"`
	}
	decode(t, post, &created)
	if created.ID == "" || created.Time != "21:30" || created.Raw != "400mg magnesium" {
		t.Errorf("created = %+v", created)
	}

	get := doRequest(t, "GET", srv.URL+"/days/2026-08-10/interventions", "", true)
	var entries []struct {
		ID string `json:"id"`
	}
	decode(t, get, &entries)
	if len(entries) != 1 || entries[0].ID != created.ID {
		t.Errorf("entries = %+v", entries)
	}

	del := doRequest(t, "DELETE", srv.URL+"/days/2026-08-10/interventions", "", true)
	if del.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", del.StatusCode)
	}

	get = doRequest(t, "GET", srv.URL+"/days/2026-08-10/interventions", "", true)
	var after []struct{}
	decode(t, get, &after)
	if len(after) != 0 {
		t.Errorf("%d entries after clear", len(after))
	}
}

func TestAppendInterventionRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/days/2026-08-10/interventions", `{"time": "21:30"}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAppendInterventionRequestIDDedup(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"time": "21:30", "raw": "sauna", "request_id": "req-1"}`
	first := doRequest(t, "POST", srv.URL+"/days/2026-08-10/interventions", body, true)
	var e1 struct {
		ID string `json:"id"`
	}
	decode(t, first, &e1)

	second := doRequest(t, "POST", srv.URL+"/days/2026-08-10/interventions", body, true)
	var e2 struct {
		ID string `json:"id"`
	}
	decode(t, second, &e2)

	if e1.ID != e2.ID {
		t.Errorf("retry created a new entry: %s vs %s", e1.ID, e2.ID)
	}
}

func TestAttachNormalizationEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	entry := storage.InterventionEntry{ID: "e1", Date: "2026-08-10", Time: "09:00", Raw: "  sauna "}
	if _, _, err := store.AppendIntervention(entry); err != nil {
		t.Fatalf("AppendIntervention: %v", err)
	}

	resp := doRequest(t, "POST", srv.URL+"/interventions/e1/normalization", `{"text": "sauna"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got, err := store.GetIntervention("e1")
	if err != nil {
		t.Fatalf("GetIntervention: %v", err)
	}
	if got.Normalized != "sauna" {
		t.Errorf("normalized = %q", got.Normalized)
	}

	missing := doRequest(t, "POST", srv.URL+"/interventions/nope/normalization", `{"text": "x"}`, true)
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing entry status = %d, want 404", missing.StatusCode)
	}
}

func TestBaselineEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	empty := doRequest(t, "GET", srv.URL+"/baseline", "", true)
	if empty.StatusCode != http.StatusNotFound {
		t.Errorf("empty baseline status = %d, want 404", empty.StatusCode)
	}

	put := doRequest(t, "PUT", srv.URL+"/days/2026-08-10/snapshot", `{"metrics": {"hrv": 58}}`, true)
	if put.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", put.StatusCode)
	}

	get := doRequest(t, "GET", srv.URL+"/baseline", "", true)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("baseline status = %d", get.StatusCode)
	}
	var b struct {
		WindowDays int `json:"window_days"`
		Metrics    map[string]struct {
			Mean        float64 `json:"mean"`
			SampleCount int     `json:"sample_count"`
		} `json:"metrics"`
	}
	decode(t, get, &b)
	if b.WindowDays != 60 {
		t.Errorf("window_days = %d", b.WindowDays)
	}
	if b.Metrics["hrv"].Mean != 58 || b.Metrics["hrv"].SampleCount != 1 {
		t.Errorf("hrv stats = %+v", b.Metrics["hrv"])
	}

	recompute := doRequest(t, "POST", srv.URL+"/baseline/recompute", "", true)
	if recompute.StatusCode != http.StatusOK {
		t.Errorf("recompute status = %d", recompute.StatusCode)
	}
}

func TestPruneEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/prune", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prune status = %d", resp.StatusCode)
	}
	var res map[string]int64
	decode(t, resp, &res)
	if res["snapshots"] != 0 {
		t.Errorf("empty store pruned %d snapshots", res["snapshots"])
	}
}

func TestBriefEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	put := doRequest(t, "PUT", srv.URL+"/days/2026-08-10/brief",
		`{"content": "HRV above baseline; easy day suggested."}`, true)
	if put.StatusCode != http.StatusOK {
		t.Fatalf("put brief status = %d", put.StatusCode)
	}

	get := doRequest(t, "GET", srv.URL+"/days/2026-08-10/brief", "", true)
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get brief status = %d", get.StatusCode)
	}
	var b struct {
		Kind    string `json:"kind"`
		Content string `json:"content"`
	}
	decode(t, get, &b)
	if b.Kind != "morning" {
		t.Errorf("kind = %q, want default morning", b.Kind)
	}

	latest := doRequest(t, "GET", srv.URL+"/briefs/latest", "", true)
	if latest.StatusCode != http.StatusOK {
		t.Errorf("latest brief status = %d", latest.StatusCode)
	}

	missing := doRequest(t, "GET", srv.URL+"/days/2026-08-11/brief", "", true)
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing brief status = %d, want 404", missing.StatusCode)
	}

	empty := doRequest(t, "PUT", srv.URL+"/days/2026-08-10/brief", `{"kind": "evening"}`, true)
	if empty.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", empty.StatusCode)
	}
}
