package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"auctionchain/core"
	"auctionchain/crypto"
)

var rpcClient = http.DefaultClient

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("error from node (%d): %s %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("error from node (%d): %s", e.Code, e.Message)
}

type signedEnvelope struct {
	Caller    string          `json:"caller"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func callRPC(method string, params []interface{}, requireAuth bool) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("%s requires a bearer token; set AUCTION_RPC_TOKEN, --token or the profile token", method)
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := rpcClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node (HTTP %d)", resp.StatusCode)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func fetchAccount(addr string) (*balanceResponse, error) {
	result, err := callRPC("bank_getBalance", []interface{}{addr}, false)
	if err != nil {
		return nil, err
	}
	var out balanceResponse
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return &out, nil
}

// callSigned fetches the caller's nonce, signs method+payload with the next
// one and submits the call.
func callSigned(key *crypto.PrivateKey, method string, payload interface{}) (json.RawMessage, error) {
	caller := key.PubKey().Address().String()
	account, err := fetchAccount(caller)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	var payloadBytes []byte
	if payload != nil {
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	nonce := account.Nonce + 1
	sig, err := core.SignCall(key, method, payloadBytes, nonce)
	if err != nil {
		return nil, err
	}
	env := signedEnvelope{
		Caller:    caller,
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
		Payload:   payloadBytes,
	}
	return callRPC(method, []interface{}{env}, true)
}

func printJSONResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	fmt.Fprintln(w, buf.String())
}
