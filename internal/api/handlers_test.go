package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickfeed/internal/api"
	"tickfeed/internal/ingest"
	"tickfeed/internal/query"
	"tickfeed/internal/registry"
	"tickfeed/pkg/market"
	"tickfeed/pkg/storage/memory"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := zap.NewNop()

	srv := api.NewServer(
		ingest.NewService(store, store, nil, logger),
		query.NewService(store, store, nil, logger),
		registry.NewService(store, logger),
		logger,
	)
	return srv.Router(), store
}

func createInstrument(t *testing.T, store *memory.Store, name string) market.Instrument {
	t.Helper()
	inst, err := store.CreateInstrument(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func postTick(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ticks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint(t *testing.T) {
	h, store := newTestServer(t)
	inst := createInstrument(t, store, "BTCUSDT")

	body := fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z","best_bid":100,"best_ask":101}`, inst.ID)
	rec := postTick(t, h, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		TickID int64 `json:"tick_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.TickID == 0 {
		t.Fatalf("bad response: %s err=%v", rec.Body.String(), err)
	}
}

func TestIngestByInstrumentName(t *testing.T) {
	h, store := newTestServer(t)
	createInstrument(t, store, "ETHUSDT")

	body := `{"instrument":"ETHUSDT","exchange":"COINEX","observed_at":"2025-03-10T10:00:00Z","last_price":1850.25}`
	rec := postTick(t, h, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestIngestErrors(t *testing.T) {
	h, store := newTestServer(t)
	inst := createInstrument(t, store, "BTCUSDT")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown instrument", `{"instrument_id":999,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z","best_bid":1}`, http.StatusNotFound},
		{"bad exchange", fmt.Sprintf(`{"instrument_id":%d,"exchange":"KRAKEN","observed_at":"2025-03-10T10:00:00Z","best_bid":1}`, inst.ID), http.StatusBadRequest},
		{"empty fields", fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z"}`, inst.ID), http.StatusBadRequest},
		{"malformed body", `{`, http.StatusBadRequest},
		{"no instrument at all", `{"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z","best_bid":1}`, http.StatusBadRequest},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := postTick(t, h, c.body)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, c.want, rec.Body.String())
			}
		})
	}
}

func seedScenario(t *testing.T, h http.Handler, store *memory.Store) market.Instrument {
	t.Helper()
	inst := createInstrument(t, store, "BTCUSDT")

	ticks := []string{
		fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z","best_bid":100,"best_ask":101}`, inst.ID),
		fmt.Sprintf(`{"instrument_id":%d,"exchange":"COINEX","observed_at":"2025-03-10T10:00:01Z","best_bid":99,"best_ask":102}`, inst.ID),
		fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:02Z","best_bid":100.5,"best_ask":101.2}`, inst.ID),
	}
	for _, body := range ticks {
		if rec := postTick(t, h, body); rec.Code != http.StatusCreated {
			t.Fatalf("seed tick failed: %s", rec.Body.String())
		}
	}
	return inst
}

func TestHistoryEndpoint(t *testing.T) {
	h, store := newTestServer(t)
	seedScenario(t, h, store)

	req := httptest.NewRequest(http.MethodGet, "/ticks?instrument=BTCUSDT&exchange=BINANCE&limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var ticks []market.Tick
	if err := json.Unmarshal(rec.Body.Bytes(), &ticks); err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	want := time.Date(2025, 3, 10, 10, 0, 2, 0, time.UTC)
	if !ticks[0].ObservedAt.Equal(want) {
		t.Errorf("newest first violated: %v", ticks[0].ObservedAt)
	}
}

func TestLatestGroupedEndpoint(t *testing.T) {
	h, store := newTestServer(t)
	seedScenario(t, h, store)

	req := httptest.NewRequest(http.MethodGet, "/latest/grouped?instrument=BTCUSDT", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var snaps []market.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(snaps))
	}
	if snaps[0].Exchange != market.ExchangeBinance || *snaps[0].BestBid != 100.5 {
		t.Errorf("unexpected head row: %+v", snaps[0])
	}
	if snaps[1].Exchange != market.ExchangeCoinex || *snaps[1].BestBid != 99 {
		t.Errorf("unexpected tail row: %+v", snaps[1])
	}
}

func TestQueryParamValidation(t *testing.T) {
	h, store := newTestServer(t)
	seedScenario(t, h, store)

	cases := []struct {
		url  string
		want int
	}{
		{"/ticks?exchange=KRAKEN", http.StatusBadRequest},
		{"/ticks?limit=abc", http.StatusBadRequest},
		{"/ticks?limit=-1", http.StatusBadRequest},
		{"/ticks?instrument=NOPE", http.StatusNotFound},
		{"/latest?exchange=KRAKEN", http.StatusBadRequest},
		{"/latest/grouped", http.StatusBadRequest},
		{"/instruments/resolve", http.StatusBadRequest},
		{"/instruments/resolve?name=NOPE", http.StatusNotFound},
	}

	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.url, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Errorf("%s: status = %d, want %d", c.url, rec.Code, c.want)
		}
	}

	// limit=0 and out-of-range offset are valid empty pages.
	for _, url := range []string{"/ticks?instrument=BTCUSDT&limit=0", "/ticks?instrument=BTCUSDT&offset=1000"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", url, rec.Code)
		}
		var ticks []market.Tick
		if err := json.Unmarshal(rec.Body.Bytes(), &ticks); err != nil || len(ticks) != 0 {
			t.Errorf("%s: expected empty page, got %s", url, rec.Body.String())
		}
	}
}

func TestInstrumentAdminEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	// Create
	req := httptest.NewRequest(http.MethodPost, "/instruments/", strings.NewReader(`{"name":"SOLUSDT"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var inst market.Instrument
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}

	// Duplicate name
	req = httptest.NewRequest(http.MethodPost, "/instruments/", strings.NewReader(`{"name":"SOLUSDT"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d", rec.Code)
	}

	// Rename + disable in one patch
	body := `{"name":"SOL-PERP","collecting":false}`
	req = httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/instruments/%d", inst.ID), strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated market.Instrument
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Name != "SOL-PERP" || updated.Collecting {
		t.Errorf("unexpected instrument after patch: %+v", updated)
	}
}

func TestHealthz(t *testing.T) {
	h, store := newTestServer(t)
	inst := createInstrument(t, store, "BTCUSDT")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	// An out-of-order tick shows up in the absorbed counter.
	newer := fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:01Z","best_bid":101}`, inst.ID)
	older := fmt.Sprintf(`{"instrument_id":%d,"exchange":"BINANCE","observed_at":"2025-03-10T10:00:00Z","best_bid":100}`, inst.ID)
	if rec := postTick(t, h, newer); rec.Code != http.StatusCreated {
		t.Fatalf("ingest newer: %s", rec.Body.String())
	}
	if rec := postTick(t, h, older); rec.Code != http.StatusCreated {
		t.Fatalf("ingest older: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health struct {
		Status   string `json:"status"`
		Absorbed int64  `json:"absorbed_out_of_order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Absorbed != 1 {
		t.Errorf("unexpected health payload: %+v", health)
	}
}
