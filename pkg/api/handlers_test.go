package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"airport-visit-map/pkg/database"
	"airport-visit-map/pkg/render"

	_ "modernc.org/sqlite"
)

// fakeStore records the calls made by the handler and fails on demand.
type fakeStore struct {
	mu        sync.Mutex
	calls     []string
	visits    []database.Visit
	counters  []database.CounterRow
	coords    []database.CoordinateRow
	schemaErr error
	writeErr  error
	readErr   error
}

func (f *fakeStore) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStore) EnsureSchema(context.Context) error {
	f.note("schema")
	return f.schemaErr
}

func (f *fakeStore) RecordVisit(_ context.Context, v database.Visit) error {
	f.note("record")
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.visits = append(f.visits, v)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ListCounters(context.Context) ([]database.CounterRow, error) {
	f.note("counters")
	return f.counters, f.readErr
}

func (f *fakeStore) ListCoordinates(context.Context) ([]database.CoordinateRow, error) {
	f.note("coordinates")
	return f.coords, f.readErr
}

func (f *fakeStore) callLog() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.calls, ",")
}

func newTestServer(t *testing.T, store VisitStore) *http.ServeMux {
	t.Helper()
	page, err := render.New(os.DirFS("../../public_html"))
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	h := NewHandler(store, page, "test", t.Logf)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func warsawRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("CF-Ray", "8a1b2c3d4e5f6789-WAW")
	req.Header.Set("CF-IPCountry", "PL")
	req.Header.Set("CF-IPCity", "Warsaw")
	req.Header.Set("CF-IPLatitude", "52.1672")
	req.Header.Set("CF-IPLongitude", "20.9679")
	req.Header.Set("CF-Region", "Mazovia")
	return req
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestVisitRecordsAndRenders(t *testing.T) {
	store := &fakeStore{
		counters: []database.CounterRow{{Country: "PL", City: "Warsaw", Value: 1}},
		coords:   []database.CoordinateRow{{Lat: 52.1672, Lon: 20.9679, Airport: "WAW"}},
	}
	mux := newTestServer(t, store)

	rr := serve(mux, warsawRequest(http.MethodGet, "/"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := store.callLog(); got != "schema,record,counters,coordinates" {
		t.Fatalf("calls = %s", got)
	}
	want := database.Visit{Country: "PL", City: "Warsaw", Airport: "WAW", Lat: 52.1672, Lon: 20.9679}
	if len(store.visits) != 1 || store.visits[0] != want {
		t.Fatalf("visits = %+v, want %+v", store.visits, want)
	}
	if !strings.Contains(rr.Body.String(), "<td>Warsaw</td>") {
		t.Errorf("scoreboard missing:\n%s", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestVisitWithoutHeadersUsesUnknown(t *testing.T) {
	store := &fakeStore{}
	mux := newTestServer(t, store)

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(store.visits) != 1 {
		t.Fatalf("visits = %+v", store.visits)
	}
	v := store.visits[0]
	if v.Country != "unknown" || v.City != "unknown" {
		t.Fatalf("visit = %+v, want unknown labels", v)
	}
}

func TestVisitFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		store     *fakeStore
		wantCalls string
		wantText  string
	}{
		{
			name:      "schema",
			store:     &fakeStore{schemaErr: &database.SchemaError{Table: "counter", Err: boom}},
			wantCalls: "schema",
			wantText:  "visit storage is not available",
		},
		{
			name:      "write",
			store:     &fakeStore{writeErr: &database.WriteError{Step: database.StepCommit, Err: boom}},
			wantCalls: "schema,record",
			wantText:  "your visit could not be recorded",
		},
		{
			name:      "read",
			store:     &fakeStore{readErr: &database.ReadError{Table: "counter", Err: boom}},
			wantCalls: "schema,record,counters",
			wantText:  "visit statistics could not be loaded",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestServer(t, tc.store)
			rr := serve(mux, warsawRequest(http.MethodGet, "/"))
			if rr.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rr.Code)
			}
			if got := tc.store.callLog(); got != tc.wantCalls {
				t.Errorf("calls = %s, want %s", got, tc.wantCalls)
			}
			body := rr.Body.String()
			if !strings.Contains(body, tc.wantText) {
				t.Errorf("body missing %q:\n%s", tc.wantText, body)
			}
			if strings.Contains(body, "boom") {
				t.Errorf("internal error leaked to visitor:\n%s", body)
			}
		})
	}
}

func TestRouting(t *testing.T) {
	mux := newTestServer(t, &fakeStore{})

	if rr := serve(mux, httptest.NewRequest(http.MethodGet, "/nope", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rr.Code)
	}
	rr := serve(mux, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST / = %d, want 405", rr.Code)
	}
	if rr.Header().Get("Allow") == "" {
		t.Error("405 without Allow header")
	}
}

func TestLocate(t *testing.T) {
	store := &fakeStore{}
	mux := newTestServer(t, store)

	rr := serve(mux, warsawRequest(http.MethodGet, "/locate"))
	if got := rr.Body.String(); got != "WAW;PL;Warsaw;52.1672;20.9679" {
		t.Fatalf("locate = %q", got)
	}
	if store.callLog() != "" {
		t.Fatalf("locate touched storage: %s", store.callLog())
	}

	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/locate", nil))
	if got := rr.Body.String(); got != ";;;0;0" {
		t.Fatalf("locate without headers = %q", got)
	}
}

func TestVersion(t *testing.T) {
	mux := newTestServer(t, &fakeStore{})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/version", nil))
	if rr.Body.String() != "test" {
		t.Fatalf("version = %q", rr.Body.String())
	}
}

func TestCountersJSON(t *testing.T) {
	store := &fakeStore{counters: []database.CounterRow{
		{Country: "FI", City: "Helsinki", Value: 2},
		{Country: "PL", City: "Warsaw", Value: 3},
	}}
	mux := newTestServer(t, store)

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/counters", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Counters []database.CounterRow `json:"counters"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Counters) != 2 || body.Counters[0].City != "Warsaw" {
		t.Fatalf("counters = %+v", body.Counters)
	}
	if store.callLog() != "schema,counters" {
		t.Fatalf("calls = %s", store.callLog())
	}
}

func TestCoordinatesJSONFailure(t *testing.T) {
	store := &fakeStore{readErr: &database.ReadError{Table: "coordinates", Err: errors.New("gone")}}
	mux := newTestServer(t, store)

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/coordinates", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestQRPNG(t *testing.T) {
	mux := newTestServer(t, &fakeStore{})

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/qrpng?u=https://example.org/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if _, err := png.Decode(bytes.NewReader(rr.Body.Bytes())); err != nil {
		t.Fatalf("decode png: %v", err)
	}

	long := "/qrpng?u=" + strings.Repeat("a", 3000)
	if rr := serve(mux, httptest.NewRequest(http.MethodGet, long, nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("long url status = %d", rr.Code)
	}
}

// TestEndToEndSQLite drives three Warsaw and two Helsinki visits through
// the handler against a real SQLite file.
func TestEndToEndSQLite(t *testing.T) {
	db, err := database.NewDatabase(database.Config{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "visits.sqlite"),
	})
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mux := newTestServer(t, db)

	helsinki := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("CF-Ray", "77aa-HEL")
		req.Header.Set("CF-IPCountry", "FI")
		req.Header.Set("CF-IPCity", "Helsinki")
		req.Header.Set("CF-IPLatitude", "60.3183")
		req.Header.Set("CF-IPLongitude", "24.9497")
		return req
	}
	reqs := []*http.Request{
		warsawRequest(http.MethodGet, "/"),
		warsawRequest(http.MethodGet, "/"),
		warsawRequest(http.MethodGet, "/"),
		helsinki(),
		helsinki(),
	}
	for i, req := range reqs {
		if rr := serve(mux, req); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d: %s", i, rr.Code, rr.Body.String())
		}
	}

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/counters", nil))
	var counters struct {
		Counters []database.CounterRow `json:"counters"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &counters); err != nil {
		t.Fatalf("decode counters: %v", err)
	}
	want := []database.CounterRow{
		{Country: "PL", City: "Warsaw", Value: 3},
		{Country: "FI", City: "Helsinki", Value: 2},
	}
	if len(counters.Counters) != len(want) {
		t.Fatalf("counters = %+v", counters.Counters)
	}
	for i := range want {
		if counters.Counters[i] != want[i] {
			t.Errorf("counters[%d] = %+v, want %+v", i, counters.Counters[i], want[i])
		}
	}

	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/api/coordinates", nil))
	var coords struct {
		Coordinates []database.CoordinateRow `json:"coordinates"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &coords); err != nil {
		t.Fatalf("decode coordinates: %v", err)
	}
	if len(coords.Coordinates) != 2 {
		t.Fatalf("coordinates = %+v", coords.Coordinates)
	}
}
