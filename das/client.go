package das

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	ErrMissingAPIKey = errors.New("missing das api key")
	ErrRPC           = errors.New("das rpc error")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnsupported   = errors.New("endpoint does not support DAS methods")
)

const methodNotFoundCode = -32601

type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
)

func RPCURL(cluster Cluster, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	var host string
	switch cluster {
	case ClusterMainnet, "mainnet-beta":
		host = "https://mainnet.helius-rpc.com"
	case ClusterDevnet:
		host = "https://devnet.helius-rpc.com"
	default:
		return "", fmt.Errorf("unsupported das cluster: %q", cluster)
	}

	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api-key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ClientFromEnv() (*Client, error) {
	if raw := strings.TrimSpace(os.Getenv("HELIUS_RPC_URL")); raw != "" {
		return NewClient(raw, nil), nil
	}

	apiKey := os.Getenv("HELIUS_API_KEY")
	cluster := Cluster(strings.TrimSpace(os.Getenv("HELIUS_CLUSTER")))
	if cluster == "" {
		cluster = ClusterMainnet
	}

	rpcURL, err := RPCURL(cluster, apiKey)
	if err != nil {
		return nil, err
	}
	return NewClient(rpcURL, nil), nil
}

type Client struct {
	rpcURL string
	http   *http.Client

	// proofRetryBase scales the delay between proof fetch attempts.
	proofRetryBase time.Duration
}

func NewClient(rpcURL string, httpClient *http.Client) *Client {
	rpcURL = strings.TrimSpace(rpcURL)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		rpcURL:         rpcURL,
		http:           httpClient,
		proofRetryBase: time.Second,
	}
}

type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrRPC.Error(), e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	switch {
	case e.Code == methodNotFoundCode:
		return ErrUnsupported
	case isRateLimited(e.Code, e.Message):
		return ErrRateLimited
	}
	return ErrRPC
}

func isRateLimited(code int, message string) bool {
	if code == 429 || code == -32429 {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	return strings.Contains(msg, "rate") && strings.Contains(msg, "limit")
}

func isNotFoundMessage(message string) bool {
	return strings.Contains(strings.ToLower(message), "not found")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (c *Client) rpcCall(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return errors.New("nil das client")
	}
	if strings.TrimSpace(c.rpcURL) == "" {
		return errors.New("empty das rpc url")
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "1",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: http status=%d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("das rpc http %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return &RPCError{Code: decoded.Error.Code, Message: decoded.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("missing result")
	}
	return json.Unmarshal(decoded.Result, out)
}

// GetAsset fetches the current ownership and compression record for one
// asset. A missing asset is terminal, so there is no retry here.
func (c *Client) GetAsset(ctx context.Context, id string) (Asset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Asset{}, fmt.Errorf("asset id required")
	}

	var raw json.RawMessage
	if err := c.rpcCall(ctx, "getAsset", map[string]any{"id": id}, &raw); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && isNotFoundMessage(rpcErr.Message) {
			return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return Asset{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}

	var w wireAsset
	if err := json.Unmarshal(raw, &w); err != nil {
		return Asset{}, fmt.Errorf("decode asset: %w", err)
	}
	return decodeAsset(w)
}

// GetAssetBatch fetches many assets at once. Ids that are missing or
// malformed are omitted from the result rather than failing the batch.
func (c *Client) GetAssetBatch(ctx context.Context, ids []string) (map[string]Asset, error) {
	if len(ids) == 0 {
		return map[string]Asset{}, nil
	}

	var raw []json.RawMessage
	if err := c.rpcCall(ctx, "getAssetBatch", map[string]any{"ids": ids}, &raw); err != nil {
		return nil, err
	}
	if len(raw) != len(ids) {
		return nil, fmt.Errorf("%w: getAssetBatch returned %d results for %d ids", ErrRPC, len(raw), len(ids))
	}

	out := make(map[string]Asset, len(ids))
	for i, r := range raw {
		if len(r) == 0 || string(r) == "null" {
			continue
		}
		var w wireAsset
		if err := json.Unmarshal(r, &w); err != nil {
			continue
		}
		asset, err := decodeAsset(w)
		if err != nil {
			continue
		}
		out[ids[i]] = asset
	}
	return out, nil
}

const proofFetchAttempts = 3

// GetAssetProof fetches a fresh inclusion proof. Transient failures are
// retried up to the attempt bound with a growing delay; a proof that is
// still structurally invalid after that surfaces as ErrInvalidProof.
func (c *Client) GetAssetProof(ctx context.Context, id string) (Proof, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Proof{}, fmt.Errorf("asset id required")
	}

	var lastErr error
	for attempt := 1; attempt <= proofFetchAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, c.proofRetryBase*time.Duration(attempt-1)); err != nil {
				return Proof{}, err
			}
		}

		var w wireProof
		err := c.rpcCall(ctx, "getAssetProof", map[string]any{"id": id}, &w)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				return Proof{}, err
			}
			lastErr = err
			continue
		}

		proof, err := decodeProof(w)
		if err != nil {
			lastErr = err
			continue
		}
		return proof, nil
	}
	if lastErr == nil {
		lastErr = ErrInvalidProof
	}
	if !errors.Is(lastErr, ErrInvalidProof) {
		// Keep the transport/rate-limit cause visible alongside the
		// terminal classification.
		lastErr = errors.Join(ErrInvalidProof, lastErr)
	}
	return Proof{}, lastErr
}

// GetAssetProofBatch fetches proofs for many assets, omitting ids whose
// proofs are missing or malformed.
func (c *Client) GetAssetProofBatch(ctx context.Context, ids []string) (map[string]Proof, error) {
	if len(ids) == 0 {
		return map[string]Proof{}, nil
	}

	var raw map[string]json.RawMessage
	if err := c.rpcCall(ctx, "getAssetProofBatch", map[string]any{"ids": ids}, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]Proof, len(raw))
	for id, r := range raw {
		if len(r) == 0 || string(r) == "null" {
			continue
		}
		var w wireProof
		if err := json.Unmarshal(r, &w); err != nil {
			continue
		}
		proof, err := decodeProof(w)
		if err != nil {
			continue
		}
		out[id] = proof
	}
	return out, nil
}

// SupportsDAS probes the endpoint with a getAssetProof call and reports
// whether the method exists at all. Standard nodes answer "method not
// found"; DAS-capable endpoints answer anything else.
func (c *Client) SupportsDAS(ctx context.Context) (bool, error) {
	var raw json.RawMessage
	err := c.rpcCall(ctx, "getAssetProof", map[string]any{"id": probeAssetID}, &raw)
	if err == nil {
		return true, nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code != methodNotFoundCode, nil
	}
	return false, err
}

// probeAssetID only has to be well-formed; the probe cares about the
// error class, not the asset.
const probeAssetID = "11111111111111111111111111111111"

type PriorityLevel string

const (
	PriorityMin      PriorityLevel = "Min"
	PriorityLow      PriorityLevel = "Low"
	PriorityMedium   PriorityLevel = "Medium"
	PriorityHigh     PriorityLevel = "High"
	PriorityVeryHigh PriorityLevel = "VeryHigh"
)

// GetPriorityFeeEstimate returns a recommended compute-unit price in
// micro-lamports for a transaction touching the given accounts. Endpoints
// without the method yield ErrUnsupported; callers treat that as zero.
func (c *Client) GetPriorityFeeEstimate(ctx context.Context, accountKeys []string, level PriorityLevel) (uint64, error) {
	if len(accountKeys) == 0 {
		return 0, fmt.Errorf("accountKeys required")
	}

	params := map[string]any{
		"accountKeys": accountKeys,
		"options": map[string]any{
			"priorityLevel": string(level),
			"recommended":   true,
		},
	}

	var out struct {
		PriorityFeeEstimate float64 `json:"priorityFeeEstimate"`
	}
	if err := c.rpcCall(ctx, "getPriorityFeeEstimate", []any{params}, &out); err != nil {
		return 0, err
	}
	return ceilUint64(out.PriorityFeeEstimate), nil
}

// LamportsPerSignature tries to fetch the current signature fee via
// JSON-RPC. If the RPC method is unavailable, it falls back to the
// standard 5000 lamports.
func (c *Client) LamportsPerSignature(ctx context.Context) (uint64, error) {
	type feeCalc struct {
		LamportsPerSignature uint64 `json:"lamportsPerSignature"`
	}
	type feeResult struct {
		FeeCalculator feeCalc `json:"feeCalculator"`
	}
	type wrappedFeeResult struct {
		Value feeResult `json:"value"`
	}

	var out1 feeResult
	if err := c.rpcCall(ctx, "getFees", []any{}, &out1); err == nil && out1.FeeCalculator.LamportsPerSignature != 0 {
		return out1.FeeCalculator.LamportsPerSignature, nil
	}

	var out2 wrappedFeeResult
	if err := c.rpcCall(ctx, "getRecentBlockhash", []any{}, &out2); err == nil && out2.Value.FeeCalculator.LamportsPerSignature != 0 {
		return out2.Value.FeeCalculator.LamportsPerSignature, nil
	}

	return 5000, nil
}

func ceilUint64(v float64) uint64 {
	if v <= 0 {
		return 0
	}
	if v >= float64(^uint64(0)) {
		return ^uint64(0)
	}
	return uint64(math.Ceil(v))
}
