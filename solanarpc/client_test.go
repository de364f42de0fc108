package solanarpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/DGrayArea/matt-sol-nft-airdrops/solana"
)

func b58(fill byte) string {
	var pk solana.Pubkey
	for i := range pk {
		pk[i] = fill
	}
	return pk.Base58()
}

func TestLatestBlockhash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getLatestBlockhash" {
			t.Fatalf("method=%q", req.Method)
		}
		opts, _ := req.Params[0].(map[string]any)
		if opts["commitment"] != "finalized" {
			t.Fatalf("commitment=%v", opts["commitment"])
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{"value":{"blockhash":%q,"lastValidBlockHeight":123456}}}`, b58(0x07))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	bh, err := c.LatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("LatestBlockhash: %v", err)
	}
	if bh.LastValidBlockHeight != 123456 {
		t.Fatalf("lastValidBlockHeight=%d", bh.LastValidBlockHeight)
	}
	if solana.Pubkey(bh.Hash).Base58() != b58(0x07) {
		t.Fatalf("hash mismatch")
	}
}

func TestSendTransaction(t *testing.T) {
	tx := []byte{1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "sendTransaction" {
			t.Fatalf("method=%q", req.Method)
		}
		if req.Params[0] != base64.StdEncoding.EncodeToString(tx) {
			t.Fatalf("tx param=%v", req.Params[0])
		}
		opts, _ := req.Params[1].(map[string]any)
		if opts["encoding"] != "base64" || opts["skipPreflight"] != true {
			t.Fatalf("opts=%v", opts)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"sig-abc"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	sig, err := c.SendTransaction(context.Background(), tx, true)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "sig-abc" {
		t.Fatalf("sig=%q", sig)
	}
}

func TestSendTransaction_Empty(t *testing.T) {
	c := New("http://unused.invalid", nil)
	if _, err := c.SendTransaction(context.Background(), nil, false); err == nil {
		t.Fatalf("expected error for empty tx")
	}
}

func TestSignatureStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want func(t *testing.T, s *SignatureStatus)
	}{
		{
			name: "confirmed",
			body: `{"jsonrpc":"2.0","id":"1","result":{"value":[{"slot":99,"confirmations":3,"err":null,"confirmationStatus":"confirmed"}]}}`,
			want: func(t *testing.T, s *SignatureStatus) {
				if s == nil || s.ConfirmationStatus != "confirmed" || s.Slot != 99 || s.Err != nil {
					t.Fatalf("status=%+v", s)
				}
			},
		},
		{
			name: "unknown signature",
			body: `{"jsonrpc":"2.0","id":"1","result":{"value":[null]}}`,
			want: func(t *testing.T, s *SignatureStatus) {
				if s != nil {
					t.Fatalf("status=%+v, want nil", s)
				}
			},
		},
		{
			name: "failed on chain",
			body: `{"jsonrpc":"2.0","id":"1","result":{"value":[{"slot":99,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}]}}`,
			want: func(t *testing.T, s *SignatureStatus) {
				if s == nil || s.Err == nil {
					t.Fatalf("status=%+v, want on-chain err", s)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Method string `json:"method"`
					Params []any  `json:"params"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Fatalf("decode request: %v", err)
				}
				if req.Method != "getSignatureStatuses" {
					t.Fatalf("method=%q", req.Method)
				}
				opts, _ := req.Params[1].(map[string]any)
				if opts["searchTransactionHistory"] != false {
					t.Fatalf("searchTransactionHistory=%v", opts["searchTransactionHistory"])
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, srv.Client())
			status, err := c.SignatureStatus(context.Background(), "sig-abc")
			if err != nil {
				t.Fatalf("SignatureStatus: %v", err)
			}
			tt.want(t, status)
		})
	}
}

func TestRPCCall_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":42}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	slot, err := c.Slot(context.Background())
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if slot != 42 {
		t.Fatalf("slot=%d", slot)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestRPCCall_RateLimitCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, srv.Client())
	_, err := c.Slot(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRPCCall_NonRetryableError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32002,"message":"Transaction simulation failed"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.SendTransaction(context.Background(), []byte{1}, false)
	if !errors.Is(err, ErrRPCError) {
		t.Fatalf("want ErrRPCError, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32002 {
		t.Fatalf("err=%v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d, want 1 (no retry for non-rate-limit errors)", calls)
	}
}

func TestBalanceLamports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getBalance" {
			t.Fatalf("method=%q", req.Method)
		}
		if req.Params[0] != b58(0x09) {
			t.Fatalf("pubkey=%v", req.Params[0])
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"value":5000000}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	got, err := c.BalanceLamports(context.Background(), b58(0x09))
	if err != nil {
		t.Fatalf("BalanceLamports: %v", err)
	}
	if got != 5000000 {
		t.Fatalf("balance=%d", got)
	}
}

func TestRPCErrorUnwrap(t *testing.T) {
	rate := &RPCError{Code: -32429, Message: "too many requests"}
	if !errors.Is(rate, ErrRateLimited) {
		t.Fatalf("code -32429 should unwrap to ErrRateLimited")
	}
	textual := &RPCError{Code: -32000, Message: "rate limit exceeded"}
	if !errors.Is(textual, ErrRateLimited) {
		t.Fatalf("rate limit message should unwrap to ErrRateLimited")
	}
	other := &RPCError{Code: -32000, Message: "boom"}
	if errors.Is(other, ErrRateLimited) {
		t.Fatalf("plain error should not unwrap to ErrRateLimited")
	}
	if !errors.Is(other, ErrRPCError) {
		t.Fatalf("plain error should unwrap to ErrRPCError")
	}
}
