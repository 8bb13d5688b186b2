package bundled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/bundled/api"
	"pkt.systems/bundled/internal/clock"
	"pkt.systems/bundled/internal/storage/memory"
)

func postBundleHTTP(t *testing.T, baseURL string, client *http.Client, req api.BundleRequest) (*http.Response, api.BundleResponse) {
	t.Helper()
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal bundle request: %v", err)
	}
	resp, err := client.Post(baseURL+"/v1/bundle", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post bundle: %v", err)
	}
	defer resp.Body.Close()
	var out api.BundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode bundle response: %v", err)
	}
	return resp, out
}

func TestServerBundleEndToEnd(t *testing.T) {
	ts := StartTestServer(t, WithTestLoggerTB(t))

	entries := make([]api.BundleEntry, 0, 3)
	for i := 0; i < 3; i++ {
		entries = append(entries, api.BundleEntry{
			Method:       api.MethodPut,
			ResourceType: "invoice",
			ResourceID:   fmt.Sprintf("inv-%d", i),
			Resource:     json.RawMessage(fmt.Sprintf(`{"total":%d}`, i*100)),
		})
	}
	resp, out := postBundleHTTP(t, ts.URL(), nil, api.BundleRequest{
		Kind:    api.KindBatch,
		Label:   "quarterly-import",
		Entries: entries,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Status != api.BundleStatusCompleted {
		t.Fatalf("expected completed bundle, got %s", out.Status)
	}
	if out.Written != 3 {
		t.Fatalf("expected 3 written, got %d", out.Written)
	}
	if out.OperationID == "" || out.CorrelationID == "" {
		t.Fatalf("expected operation and correlation ids: %+v", out)
	}

	getResp, err := http.Get(ts.URL() + "/v1/resource/invoice/inv-1")
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected committed resource readable, got %d", getResp.StatusCode)
	}
	var res api.ResourceResponse
	if err := json.NewDecoder(getResp.Body).Decode(&res); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if res.VersionID == "" || res.ETag == "" {
		t.Fatalf("expected version metadata on committed resource: %+v", res)
	}
}

func TestServerInjectedStoreObservesCommit(t *testing.T) {
	store := memory.New()
	ts := StartTestServer(t, WithTestStoreBackend(store), WithTestLoggerTB(t))

	resp, out := postBundleHTTP(t, ts.URL(), nil, api.BundleRequest{
		Kind:  api.KindTransaction,
		Label: "ledger-close",
		Entries: []api.BundleEntry{
			{Method: api.MethodPut, ResourceType: "ledger", ResourceID: "l-1", Resource: json.RawMessage(`{"balance":1}`)},
			{Method: api.MethodPut, ResourceType: "ledger", ResourceID: "l-2", Resource: json.RawMessage(`{"balance":2}`)},
		},
	})
	if resp.StatusCode != http.StatusOK || out.Status != api.BundleStatusCompleted {
		t.Fatalf("expected completed transaction, got %d %s", resp.StatusCode, out.Status)
	}
	if got := store.Len(); got != 2 {
		t.Fatalf("expected 2 resources in injected store, got %d", got)
	}
	if _, err := store.GetResource(context.Background(), "ledger", "l-2"); err != nil {
		t.Fatalf("injected store missing committed resource: %v", err)
	}
}

func TestServerUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "bundled.sock")
	StartTestServer(t, WithTestUnixSocket(socket), WithTestLoggerTB(t))

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
	resp, err := client.Get("http://bundled/healthz")
	if err != nil {
		t.Fatalf("health over unix socket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 over unix socket, got %d", resp.StatusCode)
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	ts, err := NewTestServer(context.Background())
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	if err := ts.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := ts.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(ts.URL() + "/healthz"); err == nil {
		t.Fatal("expected request to fail after shutdown")
	}
}

func TestServerDisableBundles(t *testing.T) {
	ts := StartTestServer(t, WithTestConfigFunc(func(cfg *Config) {
		cfg.DisableBundles = true
	}), WithTestLoggerTB(t))

	resp, _ := postBundleHTTP(t, ts.URL(), nil, api.BundleRequest{
		Kind:    api.KindBatch,
		Label:   "refused",
		Entries: []api.BundleEntry{{Method: api.MethodPut, ResourceType: "invoice", ResourceID: "x", Resource: json.RawMessage(`{"a":1}`)}},
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with bundles disabled, got %d", resp.StatusCode)
	}

	// single-resource endpoints keep working
	put, err := http.NewRequest(http.MethodPut, ts.URL()+"/v1/resource/invoice/solo", bytes.NewReader([]byte(`{"a":1}`)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	putResp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("put resource: %v", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("expected direct put to succeed, got %d", putResp.StatusCode)
	}
}

func TestServerManualClockStampsWrites(t *testing.T) {
	frozen := time.Date(2026, time.January, 15, 9, 30, 0, 0, time.UTC)
	ts := StartTestServer(t, WithTestClock(clock.NewManual(frozen)))

	put, err := http.NewRequest(http.MethodPut, ts.URL()+"/v1/resource/invoice/frozen", bytes.NewReader([]byte(`{"total":1}`)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("put resource: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out api.ResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode resource response: %v", err)
	}
	if out.UpdatedAt != frozen.Unix() {
		t.Fatalf("updated_at = %d, want %d", out.UpdatedAt, frozen.Unix())
	}
}

func TestServerWaitUntilReady(t *testing.T) {
	ts := StartTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.Server.WaitUntilReady(ctx); err != nil {
		t.Fatalf("wait until ready: %v", err)
	}
	if !ts.Server.Ready() {
		t.Fatal("expected server to report ready")
	}
	if ts.Server.ListenerAddr() == nil {
		t.Fatal("expected listener address")
	}
}
