package das

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

func b58(fill byte) string {
	var pk solana.Pubkey
	for i := range pk {
		pk[i] = fill
	}
	return pk.Base58()
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, srv.Client())
	c.proofRetryBase = time.Millisecond
	return c
}

func TestClient_GetAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getAsset" {
			t.Fatalf("method=%q", req.Method)
		}
		if req.Params["id"] != "asset-1" {
			t.Fatalf("id=%v", req.Params["id"])
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{
			"id":"asset-1",
			"ownership":{"owner":%q,"delegate":%q,"delegated":true,"frozen":false},
			"compression":{"compressed":true,"tree":%q,"data_hash":%q,"creator_hash":%q,"leaf_id":7,"seq":9}
		}}`, b58(0x01), b58(0x02), b58(0x10), b58(0x20), b58(0x30))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	asset, err := c.GetAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.ID != "asset-1" {
		t.Fatalf("id=%q", asset.ID)
	}
	if asset.Owner.Base58() != b58(0x01) {
		t.Fatalf("owner=%s", asset.Owner)
	}
	if !asset.Delegated || asset.Delegate.Base58() != b58(0x02) {
		t.Fatalf("delegate=%s delegated=%v", asset.Delegate, asset.Delegated)
	}
	if !asset.Compressed {
		t.Fatalf("not compressed")
	}
	if asset.Compression.Tree.Base58() != b58(0x10) || asset.Compression.LeafIndex != 7 || asset.Compression.Seq != 9 {
		t.Fatalf("compression=%+v", asset.Compression)
	}
	if err := asset.Transferable(); err != nil {
		t.Fatalf("Transferable: %v", err)
	}
}

func TestClient_GetAsset_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"Asset Not Found"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GetAsset(context.Background(), "missing")
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("want ErrAssetNotFound, got %v", err)
	}
}

func TestClient_GetAsset_Uncompressed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{
			"id":"asset-1",
			"ownership":{"owner":%q,"delegated":false},
			"compression":{"compressed":false}
		}}`, b58(0x01))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	asset, err := c.GetAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.Compressed {
		t.Fatalf("compressed=%v, want false", asset.Compressed)
	}
	if err := asset.Transferable(); !errors.Is(err, ErrNotCompressed) {
		t.Fatalf("want ErrNotCompressed, got %v", err)
	}
}

func TestClient_GetAssetProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getAssetProof" {
			t.Fatalf("method=%q", req.Method)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{
			"root":%q,"proof":[%q,%q,%q],"node_index":11,"leaf":%q,"tree_id":%q
		}}`, b58(0x40), b58(0x51), b58(0x52), b58(0x53), b58(0x60), b58(0x10))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	proof, err := c.GetAssetProof(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("GetAssetProof: %v", err)
	}
	if len(proof.Nodes) != 3 {
		t.Fatalf("nodes=%d", len(proof.Nodes))
	}
	// Sibling order must be preserved exactly as returned.
	for i, fill := range []byte{0x51, 0x52, 0x53} {
		if solana.Pubkey(proof.Nodes[i]).Base58() != b58(fill) {
			t.Fatalf("node[%d] out of order", i)
		}
	}
	if proof.NodeIndex != 11 {
		t.Fatalf("node_index=%d", proof.NodeIndex)
	}
	if proof.TreeID.Base58() != b58(0x10) {
		t.Fatalf("tree_id=%s", proof.TreeID)
	}
}

func TestClient_GetAssetProof_EmptyProofExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{"root":%q,"proof":[]}}`, b58(0x40))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GetAssetProof(context.Background(), "asset-1")
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("want ErrInvalidProof, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != proofFetchAttempts {
		t.Fatalf("calls=%d, want %d", got, proofFetchAttempts)
	}
}

func TestClient_GetAssetProof_RateLimitedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{"root":%q,"proof":[%q]}}`, b58(0x40), b58(0x51))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	start := time.Now()
	proof, err := c.GetAssetProof(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("GetAssetProof: %v", err)
	}
	if len(proof.Nodes) != 1 {
		t.Fatalf("nodes=%d", len(proof.Nodes))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
	if time.Since(start) < c.proofRetryBase {
		t.Fatalf("retry happened without backoff delay")
	}
}

func TestClient_GetAssetProof_MethodNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"Method not found"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GetAssetProof(context.Background(), "asset-1")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d, want 1 (no retry for unsupported endpoints)", calls)
	}
}

func TestClient_GetAssetBatch_OmitsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getAssetBatch" {
			t.Fatalf("method=%q", req.Method)
		}
		ids, ok := req.Params["ids"].([]any)
		if !ok || len(ids) != 2 {
			t.Fatalf("ids=%v", req.Params["ids"])
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":[
			{"id":"a","ownership":{"owner":%q}},
			null
		]}`, b58(0x01))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	out, err := c.GetAssetBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetAssetBatch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len=%d, want 1", len(out))
	}
	if _, ok := out["a"]; !ok {
		t.Fatalf("missing asset a")
	}
	if _, ok := out["b"]; ok {
		t.Fatalf("asset b should be omitted")
	}
}

func TestClient_GetAssetProofBatch_OmitsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{
			"a":{"root":%q,"proof":[%q]},
			"b":{"root":%q,"proof":[]},
			"c":null
		}}`, b58(0x40), b58(0x51), b58(0x40))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	out, err := c.GetAssetProofBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetAssetProofBatch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len=%d, want 1", len(out))
	}
	if _, ok := out["a"]; !ok {
		t.Fatalf("missing proof a")
	}
}

func TestClient_SupportsDAS(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"method not found", `{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"Method not found"}}`, false},
		{"asset not found still counts", `{"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"Asset Not Found"}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(srv)
			got, err := c.SupportsDAS(context.Background())
			if err != nil {
				t.Fatalf("SupportsDAS: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got=%v want=%v", got, tt.want)
			}
		})
	}
}

func TestClient_GetPriorityFeeEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getPriorityFeeEstimate" {
			t.Fatalf("method=%q", req.Method)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"priorityFeeEstimate":1234.2}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	got, err := c.GetPriorityFeeEstimate(context.Background(), []string{b58(0x01)}, PriorityMedium)
	if err != nil {
		t.Fatalf("GetPriorityFeeEstimate: %v", err)
	}
	if got != 1235 {
		t.Fatalf("got=%d, want 1235", got)
	}
}

func TestRPCURL(t *testing.T) {
	u, err := RPCURL(ClusterDevnet, "key-123")
	if err != nil {
		t.Fatalf("RPCURL: %v", err)
	}
	if u != "https://devnet.helius-rpc.com?api-key=key-123" {
		t.Fatalf("url=%q", u)
	}

	if _, err := RPCURL(ClusterMainnet, "  "); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("want ErrMissingAPIKey, got %v", err)
	}
	if _, err := RPCURL("nonsense", "key"); err == nil {
		t.Fatalf("expected error for unknown cluster")
	}
}
