package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/lifecycle"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ariefcatur/go-supplychain-tracker/internal/redisx"
)

const hardhatKey0 = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type env struct {
	ledger *ledger.Memory
	repo   *catalog.Repository
	svc    *lifecycle.Service
	srv    *httptest.Server
}

func newEnv(t *testing.T, withIdem bool) env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := ledger.NewMemory()
	m.Seed("Coffee beans", "Huila", products.StatusInTransit)
	m.Seed("Tea leaves", "Assam")
	m.Seed("Cocoa", "Ghana", products.StatusInTransit, products.StatusDelivered)

	repo := catalog.New(m, catalog.Options{Logger: log})
	if _, err := repo.ReloadAll(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	signer, err := ledger.NewKeySigner(hardhatKey0, 31337)
	if err != nil {
		t.Fatal(err)
	}
	svc := lifecycle.New(m, repo, signer, lifecycle.Options{Logger: log, Producer: "test"})

	h := &ProductsHandler{Repo: repo, Lifecycle: svc, Log: log}
	if withIdem {
		mr := miniredis.RunT(t)
		rdb := redisx.New(mr.Addr())
		t.Cleanup(func() { _ = rdb.Close() })
		h.Idem = redisx.NewIdempotency(rdb)
	}
	r := NewRouter(RouterOptions{})
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return env{ledger: m, repo: repo, svc: svc, srv: srv}
}

func do(t *testing.T, method, url, body string, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, false)
	resp, body := do(t, http.MethodGet, e.srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: %d %q", resp.StatusCode, body)
	}
}

func TestListProductsFilters(t *testing.T) {
	e := newEnv(t, false)
	cases := []struct {
		query string
		ids   []uint64
	}{
		{"", []uint64{0, 1, 2}},
		{"?search=co", []uint64{0, 2}},
		{"?search=1", []uint64{1}},
		{"?status=In%20Transit", []uint64{0}},
		{"?status=All&search=TEA", []uint64{1}},
		{"?search=co&status=delivered", []uint64{2}},
	}
	for _, tc := range cases {
		resp, body := do(t, http.MethodGet, e.srv.URL+"/products"+tc.query, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", tc.query, resp.StatusCode)
		}
		got := decode[ListResp](t, body)
		if got.Count != len(tc.ids) {
			t.Fatalf("%s: count=%d want %d", tc.query, got.Count, len(tc.ids))
		}
		for i, id := range tc.ids {
			if got.Products[i].ID != id {
				t.Fatalf("%s: products[%d]=%d want %d", tc.query, i, got.Products[i].ID, id)
			}
		}
	}
}

func TestListProductsRejectsUnknownStatus(t *testing.T) {
	e := newEnv(t, false)
	resp, body := do(t, http.MethodGet, e.srv.URL+"/products?status=Lost", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := decode[errorBody](t, body); got.Code != "invalid" {
		t.Fatalf("code=%q", got.Code)
	}
}

func TestGetProduct(t *testing.T) {
	e := newEnv(t, false)
	resp, body := do(t, http.MethodGet, e.srv.URL+"/products/2", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	p := decode[products.Product](t, body)
	if p.Name != "Cocoa" || p.CurrentStatus != products.StatusDelivered || len(p.History) != 3 {
		t.Fatalf("product=%+v", p)
	}

	if resp, _ := do(t, http.MethodGet, e.srv.URL+"/products/99", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing product: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, e.srv.URL+"/products/abc", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: %d", resp.StatusCode)
	}
}

func TestTransitionUpdatesCache(t *testing.T) {
	e := newEnv(t, false)
	resp, body := do(t, http.MethodPost, e.srv.URL+"/products/1/status", `{"status":"InTransit"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	got := decode[TransitionResp](t, body)
	if got.Cache != "applied" || got.Tx.Hash == "" {
		t.Fatalf("resp=%+v", got)
	}
	p, _ := e.repo.Snapshot().Get(1)
	if p.CurrentStatus != products.StatusInTransit {
		t.Fatalf("cached status=%v", p.CurrentStatus)
	}
}

func TestTransitionErrors(t *testing.T) {
	e := newEnv(t, false)
	cases := []struct {
		name string
		path string
		body string
		code int
		kind string
	}{
		{"unknown status", "/products/1/status", `{"status":"Lost"}`, http.StatusBadRequest, "invalid"},
		{"missing product", "/products/42/status", `{"status":"Delivered"}`, http.StatusNotFound, "not_found"},
		{"bad json", "/products/1/status", `{`, http.StatusBadRequest, "invalid"},
	}
	for _, tc := range cases {
		resp, body := do(t, http.MethodPatch, e.srv.URL+tc.path, tc.body, nil)
		if resp.StatusCode != tc.code {
			t.Fatalf("%s: status %d want %d (%s)", tc.name, resp.StatusCode, tc.code, body)
		}
		if got := decode[errorBody](t, body); got.Code != tc.kind {
			t.Fatalf("%s: code %q want %q", tc.name, got.Code, tc.kind)
		}
	}
}

func TestTransitionReadOnly(t *testing.T) {
	e := newEnv(t, false)
	e.svc.Revoke()
	for _, status := range []string{"Delivered", "Lost"} {
		resp, body := do(t, http.MethodPost, e.srv.URL+"/products/1/status", `{"status":"`+status+`"}`, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status %d", status, resp.StatusCode)
		}
		if got := decode[errorBody](t, body); got.Code != "unauthorized" {
			t.Fatalf("%s: code=%q", status, got.Code)
		}
	}
}

func TestTransitionLedgerOffline(t *testing.T) {
	e := newEnv(t, false)
	e.ledger.SetOffline(true)
	resp, body := do(t, http.MethodPost, e.srv.URL+"/products/1/status", `{"status":"Delivered"}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestCreateProductIdempotent(t *testing.T) {
	e := newEnv(t, true)
	hdr := map[string]string{"Idempotency-Key": "req-1"}
	body := `{"name":"  Saffron ","origin":"Herat"}`

	resp, first := do(t, http.MethodPost, e.srv.URL+"/products", body, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, first)
	}
	c := decode[lifecycle.Creation](t, first)
	if !c.Reloaded || c.Product == nil || c.Product.Name != "Saffron" || c.Product.ID != 3 {
		t.Fatalf("creation=%+v", c)
	}

	resp, second := do(t, http.MethodPost, e.srv.URL+"/products", body, hdr)
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay: %d %v", resp.StatusCode, resp.Header)
	}
	if string(second) != string(first) {
		t.Fatalf("replayed body differs:\n%s\n%s", first, second)
	}
	if n := e.repo.Snapshot().Len(); n != 4 {
		t.Fatalf("products=%d, want 4", n)
	}
}

func TestCreateProductValidation(t *testing.T) {
	e := newEnv(t, true)
	resp, body := do(t, http.MethodPost, e.srv.URL+"/products", `{"name":" ","origin":"Herat"}`,
		map[string]string{"Idempotency-Key": "req-2"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	// the failed attempt released its key
	resp, _ = do(t, http.MethodPost, e.srv.URL+"/products", `{"name":"Vanilla","origin":"Madagascar"}`,
		map[string]string{"Idempotency-Key": "req-2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry status %d", resp.StatusCode)
	}
}

func TestReloadAndMalformedHistory(t *testing.T) {
	e := newEnv(t, false)
	e.ledger.Seed("Pepper", "Kerala")

	resp, body := do(t, http.MethodPost, e.srv.URL+"/reload", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := decode[ReloadResp](t, body); got.Count != 4 || got.Generation != 2 {
		t.Fatalf("reload=%+v", got)
	}

	e.ledger.SetHistory(0, products.RawHistory{Statuses: []uint8{0, 1}, Timestamps: []uint64{1}})
	resp, body = do(t, http.MethodPost, e.srv.URL+"/reload", "", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := decode[errorBody](t, body); got.Code != "data_integrity" {
		t.Fatalf("code=%q", got.Code)
	}
	if n := e.repo.Snapshot().Len(); n != 4 {
		t.Fatalf("failed reload changed cache: %d", n)
	}
}

func TestIdentity(t *testing.T) {
	e := newEnv(t, false)
	_, body := do(t, http.MethodGet, e.srv.URL+"/identity", "", nil)
	got := decode[IdentityResp](t, body)
	if got.ReadOnly || !strings.EqualFold(got.Address, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266") {
		t.Fatalf("identity=%+v", got)
	}
	e.svc.Revoke()
	_, body = do(t, http.MethodGet, e.srv.URL+"/identity", "", nil)
	if got := decode[IdentityResp](t, body); !got.ReadOnly || got.Address != "" {
		t.Fatalf("after revoke=%+v", got)
	}
}

func TestStatuses(t *testing.T) {
	e := newEnv(t, false)
	resp, body := do(t, http.MethodGet, e.srv.URL+"/statuses", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	got := decode[[]StatusResp](t, body)
	want := []StatusResp{
		{Code: 0, Ident: "Created", Label: "Created"},
		{Code: 1, Ident: "InTransit", Label: "In Transit"},
		{Code: 2, Ident: "Delivered", Label: "Delivered"},
	}
	if len(got) != len(want) {
		t.Fatalf("statuses=%+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses[%d]=%+v want %+v", i, got[i], want[i])
		}
	}
}
