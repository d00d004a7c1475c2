package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vintagemap/internal/auth"
	"vintagemap/internal/config"
	"vintagemap/internal/store"
	"vintagemap/internal/strava"
)

type fixture struct {
	t      *testing.T
	app    *httptest.Server
	client *http.Client
	store  *store.Store
	server *Server

	tokenCalls   atomic.Int32
	refreshCalls atomic.Int32
	expiresAt    atomic.Int64
	failRefresh  atomic.Bool
	listStatus   atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t}
	f.expiresAt.Store(time.Now().Add(6 * time.Hour).Unix())

	upstream := httptest.NewServer(http.HandlerFunc(f.serveStrava))
	t.Cleanup(upstream.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	f.store = st

	cfg := config.DefaultConfig()
	cfg.Strava.ClientID = "client"
	cfg.Strava.ClientSecret = "secret"
	cfg.Server.BaseURL = "http://maps.test"
	cfg.Server.CookieSecure = false
	cfg.Server.RateLimit = 0
	cfg.Ingest.Pause = time.Millisecond

	oauthCfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		TokenURL:     upstream.URL + "/oauth/token",
	})
	f.server = NewServer(Deps{
		Config: &cfg,
		Store:  st,
		Auth:   auth.NewManager(oauthCfg, st),
		Strava: strava.NewClient(strava.ClientConfig{BaseURL: upstream.URL}),
	})
	f.app = httptest.NewServer(f.server.Handler())
	t.Cleanup(f.app.Close)

	jar, _ := cookiejar.New(nil)
	f.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *fixture) serveStrava(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/oauth/token":
		r.ParseForm()
		f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"access-1","refresh_token":"refresh-1","expires_at":%d,"expires_in":21600,"athlete":{"id":42,"firstname":"Ada","lastname":"Lovelace"}}`, f.expiresAt.Load())
		case "refresh_token":
			f.refreshCalls.Add(1)
			if f.failRefresh.Load() {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"message":"Bad Request"}`)
				return
			}
			fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"access-2","refresh_token":"refresh-2","expires_at":%d,"expires_in":21600}`, time.Now().Add(6*time.Hour).Unix())
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	case !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-"):
		w.WriteHeader(http.StatusUnauthorized)
		return
	case r.URL.Path == "/athlete/activities":
		if code := f.listStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		fmt.Fprint(w, `[{"id":1,"name":"Morning Run","extra":true}]`)
		return
	}

	var id int64
	if _, err := fmt.Sscanf(r.URL.Path, "/activities/%d", &id); err != nil {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/streams") {
		lat := 51.5 + float64(id)*0.01
		fmt.Fprintf(w, `{"latlng":{"data":[[%f,-0.1],[%f,-0.1001]]},"altitude":{"data":[10,12]},"time":{"data":[0,5]}}`, lat, lat+0.0001)
		return
	}
	fmt.Fprintf(w, `{"id":%d,"name":"Run %d","type":"Run","start_date":"2024-01-01T08:00:00Z"}`, id, id)
}

func (f *fixture) do(method, path, csrf string, body io.Reader) *http.Response {
	f.t.Helper()
	req, err := http.NewRequest(method, f.app.URL+path, body)
	if err != nil {
		f.t.Fatal(err)
	}
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return m
}

// connect runs the OAuth round trip and returns the session's CSRF token
func (f *fixture) connect() string {
	f.t.Helper()

	resp := f.do("GET", "/auth/strava", "", nil)
	if resp.StatusCode != http.StatusFound {
		f.t.Fatalf("auth start status = %d", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	state := loc.Query().Get("state")
	if state == "" {
		f.t.Fatalf("authorize URL without state: %s", loc)
	}

	resp = f.do("GET", "/auth/strava/callback?code=abc&state="+state, "", nil)
	if got := resp.Header.Get("Location"); got != "http://maps.test/vintagemap.html?connected=true" {
		f.t.Fatalf("callback redirect = %q", got)
	}
	return state
}

func TestSessionUnauthenticated(t *testing.T) {
	f := newFixture(t)

	resp := f.do("GET", "/api/session", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := decode(t, resp)["error"]; got != "Not authenticated" {
		t.Errorf("error = %v", got)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "vintagemap_session" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie flags = HttpOnly:%v SameSite:%v", cookie.HttpOnly, cookie.SameSite)
	}
}

func TestSessionRejectsNonGET(t *testing.T) {
	f := newFixture(t)

	resp := f.do("POST", "/api/session", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if _, ok := decode(t, resp)["error"]; !ok {
		t.Error("405 body has no error field")
	}
}

func TestSessionRejectsNonGETWhenConnected(t *testing.T) {
	f := newFixture(t)
	f.connect()

	for _, method := range []string{"POST", "DELETE", "PUT"} {
		resp := f.do(method, "/api/session", "", nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s status = %d, want 405", method, resp.StatusCode)
		}
	}

	// the session survives the rejected calls
	resp := f.do("GET", "/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET status = %d, want 200", resp.StatusCode)
	}
}

func TestDataEndpointsRequireAuth(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/activities", "/api/activities/1/gpx", "/api/tracks", "/api/ingest"} {
		resp := f.do("GET", path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestConnectAndSession(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	resp := f.do("GET", "/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["status"] != "ok" || body["csrf_token"] != csrf {
		t.Errorf("body = %v", body)
	}
	athlete, _ := body["athlete"].(map[string]interface{})
	if athlete["firstname"] != "Ada" || athlete["id"] != float64(42) {
		t.Errorf("athlete = %v", athlete)
	}
	if f.refreshCalls.Load() != 0 {
		t.Error("valid session should not refresh")
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	f := newFixture(t)
	f.do("GET", "/api/session", "", nil)

	resp := f.do("GET", "/auth/strava/callback?code=abc&state=forged", "", nil)
	if got := resp.Header.Get("Location"); got != "http://maps.test/vintagemap.html?error=auth_failed" {
		t.Errorf("redirect = %q", got)
	}
	if f.tokenCalls.Load() != 0 {
		t.Error("code exchanged despite bad state")
	}
}

func TestSessionRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.expiresAt.Store(time.Now().Add(-time.Minute).Unix())
	f.connect()

	resp := f.do("GET", "/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["refreshed"] != true {
		t.Errorf("body = %v, want refreshed", body)
	}
	if f.refreshCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refreshCalls.Load())
	}
}

func TestSessionRefreshFailureEndsSession(t *testing.T) {
	f := newFixture(t)
	f.expiresAt.Store(time.Now().Add(-time.Minute).Unix())
	f.failRefresh.Store(true)
	f.connect()

	resp := f.do("GET", "/api/session", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := decode(t, resp)["error"]; got != "Token refresh failed" {
		t.Errorf("error = %v", got)
	}

	resp = f.do("GET", "/api/session", "", nil)
	if got := decode(t, resp)["error"]; got != "Not authenticated" {
		t.Errorf("after failure error = %v, want a fresh unauthenticated session", got)
	}
	if f.refreshCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refreshCalls.Load())
	}
}

func TestListActivities(t *testing.T) {
	f := newFixture(t)
	f.connect()

	resp := f.do("GET", "/api/activities?page=1&per_page=50", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != `[{"id":1,"name":"Morning Run","extra":true}]` {
		t.Errorf("body = %s, want verbatim pass-through", data)
	}

	resp = f.do("GET", "/api/activities?page=zero", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad page status = %d, want 400", resp.StatusCode)
	}
}

func TestListActivitiesPropagatesUpstreamStatus(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.listStatus.Store(http.StatusTooManyRequests)

	resp := f.do("GET", "/api/activities", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["error"] != "Strava API error" || body["code"] != float64(429) {
		t.Errorf("body = %v", body)
	}
}

func TestActivityGPX(t *testing.T) {
	f := newFixture(t)
	f.connect()

	resp := f.do("GET", "/api/activities/7/gpx", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/gpx+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `inline; filename="activity_7.gpx"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "<trkpt") {
		t.Error("document has no track points")
	}

	resp = f.do("GET", "/api/activities/abc/gpx", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func (f *fixture) waitIdle() map[string]interface{} {
	f.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		body := decode(f.t, f.do("GET", "/api/ingest", "", nil))
		if body["state"] == "idle" {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.t.Fatal("ingestion did not finish")
	return nil
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	tests := []struct {
		name   string
		csrf   string
		body   string
		status int
	}{
		{"missing csrf", "", `{"activity_ids":[1]}`, http.StatusForbidden},
		{"wrong csrf", "nope", `{"activity_ids":[1]}`, http.StatusForbidden},
		{"empty batch", csrf, `{"activity_ids":[]}`, http.StatusBadRequest},
		{"malformed", csrf, `{"activity_ids":`, http.StatusBadRequest},
		{"non-positive id", csrf, `{"activity_ids":[0]}`, http.StatusBadRequest},
		{"large batch unconfirmed", csrf, `{"activity_ids":[1,2,3,4,5,6,7,8,9,10,11]}`, http.StatusPreconditionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do("POST", "/api/ingest", tt.csrf, strings.NewReader(tt.body))
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	resp := f.do("POST", "/api/ingest", csrf, strings.NewReader(`{"activity_ids":[1,2,3,4,5,6,7,8,9,10,11]}`))
	if resp.StatusCode != http.StatusPreconditionRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["count"] != float64(11) || !strings.Contains(body["message"].(string), "11 activities") {
		t.Errorf("confirmation body = %v", body)
	}

	resp = f.do("POST", "/api/ingest", csrf, strings.NewReader(`{"activity_ids":[1,2]}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", resp.StatusCode)
	}
	status := f.waitIdle()
	if status["succeeded"] != float64(2) || status["loaded"] != float64(2) {
		t.Errorf("status = %v", status)
	}

	var fc struct {
		Type     string    `json:"type"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	resp = f.do("GET", "/api/tracks", "", nil)
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 || len(fc.BBox) != 4 {
		t.Fatalf("tracks = %+v", fc)
	}

	resp = f.do("DELETE", "/api/tracks", csrf, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	if got := f.waitIdle()["loaded"]; got != float64(0) {
		t.Errorf("loaded after clear = %v", got)
	}
}

func TestIngestConfirmedLargeBatch(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	resp := f.do("POST", "/api/ingest", csrf, strings.NewReader(`{"activity_ids":[1,2,3,4,5,6,7,8,9,10,11],"confirm":true}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := f.waitIdle()["succeeded"]; got != float64(11) {
		t.Errorf("succeeded = %v", got)
	}
}

func TestIngestEvents(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	u, _ := url.Parse(f.app.URL)
	header := http.Header{}
	for _, c := range f.client.Jar.Cookies(u) {
		header.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(f.app.URL, "http") + "/api/ingest/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first map[string]interface{}
	if err := conn.ReadJSON(&first); err != nil || first["type"] != "status" {
		t.Fatalf("first message = %v, err = %v", first, err)
	}

	if resp := f.do("POST", "/api/ingest", csrf, strings.NewReader(`{"activity_ids":[1,2,3]}`)); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	progress := 0
	for {
		var ev struct {
			Type     string `json:"type"`
			Progress *struct {
				Processed int `json:"processed"`
				Total     int `json:"total"`
			} `json:"progress"`
			Summary *struct {
				Succeeded int    `json:"succeeded"`
				Message   string `json:"message"`
			} `json:"summary"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "progress" {
			progress++
			if ev.Progress.Processed != progress || ev.Progress.Total != 3 {
				t.Errorf("progress = %+v, want %d/3", ev.Progress, progress)
			}
			continue
		}
		if ev.Type == "summary" {
			if ev.Summary.Succeeded != 3 || ev.Summary.Message != "Successfully loaded all 3 activities" {
				t.Errorf("summary = %+v", ev.Summary)
			}
			break
		}
	}
	if progress != 3 {
		t.Errorf("progress events = %d, want 3", progress)
	}
}

func TestImportTrack(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	resp := f.do("POST", "/api/tracks/import", csrf, strings.NewReader("<not-gpx"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid document status = %d, want 422", resp.StatusCode)
	}

	gpxDoc := f.do("GET", "/api/activities/3/gpx", "", nil)
	doc, _ := io.ReadAll(gpxDoc.Body)
	resp = f.do("POST", "/api/tracks/import", csrf, strings.NewReader(string(doc)))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status = %d, want 201", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["name"] != "Run 3" || body["points"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	csrf := f.connect()

	resp := f.do("POST", "/api/disconnect", csrf, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode(t, f.do("GET", "/api/session", "", nil))["error"]; got != "Not authenticated" {
		t.Errorf("after disconnect error = %v", got)
	}

	// a second disconnect from a stale page
	resp = f.do("POST", "/api/disconnect", csrf, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat disconnect status = %d", resp.StatusCode)
	}
}

func TestPurgeSessions(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.do("GET", "/api/ingest", "", nil)
	if f.server.queues.len() != 1 {
		t.Fatalf("queues = %d, want 1", f.server.queues.len())
	}
	f.server.cfg.Server.SessionTTL = -time.Minute

	n, err := f.server.PurgeSessions(context.Background())
	if err != nil {
		t.Fatalf("PurgeSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if f.server.queues.len() != 0 {
		t.Error("queues survived purge")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do("GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if decode(t, resp)["status"] != "ok" {
		t.Error("health not ok")
	}
	if resp := f.do("GET", "/metrics", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
