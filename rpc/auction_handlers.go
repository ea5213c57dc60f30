package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"auctionchain/core"
	"auctionchain/crypto"
	"auctionchain/indexer"
	"auctionchain/native/auction"
)

// signedParams is the envelope every mutating call carries. The signature
// covers the raw payload bytes exactly as sent.
type signedParams struct {
	Caller    string          `json:"caller"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type placeBidPayload struct {
	Amount string `json:"amount"`
}

type signedMethod struct {
	// validate rejects malformed payloads before the nonce is consumed.
	validate func(payload json.RawMessage) error
	run      func(ctx context.Context, caller [20]byte, payload json.RawMessage) (interface{}, error)
}

type readMethod func(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError)

type statusJSON struct {
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	HighestBid    string `json:"highestBid"`
	HighestBidder string `json:"highestBidder,omitempty"`
	Ended         bool   `json:"ended"`
	Paused        bool   `json:"paused"`
}

type auctionJSON struct {
	statusJSON
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	TotalAccepted string `json:"totalAccepted"`
	TotalPaidOut  string `json:"totalPaidOut"`
	Outstanding   string `json:"outstanding"`
	Root          string `json:"root"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

type remainingResult struct {
	Remaining int64 `json:"remaining"`
}

type pendingResult struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type listEventsParams struct {
	Type   string `json:"type,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) signedMethods() map[string]signedMethod {
	status := func(context.Context) (interface{}, error) {
		st, err := s.node.Status()
		if err != nil {
			return nil, err
		}
		return formatStatus(st), nil
	}
	return map[string]signedMethod{
		"auction_placeBid": {
			validate: func(payload json.RawMessage) error {
				_, err := parseBidPayload(payload)
				return err
			},
			run: func(ctx context.Context, caller [20]byte, payload json.RawMessage) (interface{}, error) {
				amount, err := parseBidPayload(payload)
				if err != nil {
					return nil, err
				}
				if err := s.node.PlaceBid(ctx, caller, amount); err != nil {
					return nil, err
				}
				return status(ctx)
			},
		},
		"auction_withdraw": {
			run: func(ctx context.Context, caller [20]byte, _ json.RawMessage) (interface{}, error) {
				paid, err := s.node.Withdraw(ctx, caller)
				if err != nil {
					return nil, err
				}
				return withdrawResult{Amount: paid.String()}, nil
			},
		},
		"auction_endAuction": {
			run: func(ctx context.Context, caller [20]byte, _ json.RawMessage) (interface{}, error) {
				if err := s.node.EndAuction(ctx, caller); err != nil {
					return nil, err
				}
				return status(ctx)
			},
		},
		"auction_pause": {
			run: func(ctx context.Context, caller [20]byte, _ json.RawMessage) (interface{}, error) {
				if err := s.node.Pause(ctx, caller); err != nil {
					return nil, err
				}
				return status(ctx)
			},
		},
		"auction_unpause": {
			run: func(ctx context.Context, caller [20]byte, _ json.RawMessage) (interface{}, error) {
				if err := s.node.Unpause(ctx, caller); err != nil {
					return nil, err
				}
				return status(ctx)
			},
		},
	}
}

func (s *Server) readMethods() map[string]readMethod {
	return map[string]readMethod{
		"auction_getStatus":        s.handleGetStatus,
		"auction_getRemainingTime": s.handleGetRemainingTime,
		"auction_pendingReturn":    s.handlePendingReturn,
		"auction_info":             s.handleInfo,
		"bank_getBalance":          s.handleGetBalance,
		"auction_listEvents":       s.handleListEvents,
	}
}

func (s *Server) runSigned(ctx context.Context, req *RPCRequest, m signedMethod) (interface{}, *RPCError) {
	if len(req.Params) != 1 {
		return nil, invalidParams("exactly one parameter object expected")
	}
	var params signedParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		return nil, invalidParams(err.Error())
	}
	caller, err := crypto.ParseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("caller: %v", err))
	}
	sig, err := hexutil.Decode(strings.TrimSpace(params.Signature))
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("signature: %v", err))
	}
	if m.validate != nil {
		if err := m.validate(params.Payload); err != nil {
			return nil, invalidParams(err.Error())
		}
	}
	call := core.Call{
		Method:    req.Method,
		Payload:   []byte(params.Payload),
		Caller:    caller,
		Nonce:     params.Nonce,
		Signature: sig,
	}
	if err := s.node.Authorize(call); err != nil {
		return nil, toRPCError(err)
	}
	result, err := m.run(ctx, caller, params.Payload)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func (s *Server) handleGetStatus(context.Context, []json.RawMessage) (interface{}, *RPCError) {
	st, err := s.node.Status()
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatStatus(st), nil
}

func (s *Server) handleGetRemainingTime(context.Context, []json.RawMessage) (interface{}, *RPCError) {
	remaining, err := s.node.RemainingTime()
	if err != nil {
		return nil, toRPCError(err)
	}
	return remainingResult{Remaining: remaining}, nil
}

func (s *Server) handlePendingReturn(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	addr, rpcErr := parseAddressParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.node.PendingReturn(addr)
	if err != nil {
		return nil, toRPCError(err)
	}
	return pendingResult{Address: crypto.FormatAddress(addr), Amount: amount.String()}, nil
}

func (s *Server) handleInfo(context.Context, []json.RawMessage) (interface{}, *RPCError) {
	a, err := s.node.Auction()
	if err != nil {
		return nil, toRPCError(err)
	}
	root := s.node.Root()
	return auctionJSON{
		statusJSON: formatStatus(auction.Status{
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
			HighestBid:    a.HighestBid,
			HighestBidder: a.HighestBidder,
			Ended:         a.Ended,
			Paused:        a.Paused,
		}),
		Address:       crypto.FormatAddress(a.Address),
		Owner:         crypto.FormatAddress(a.Owner),
		TotalAccepted: a.TotalAccepted.String(),
		TotalPaidOut:  a.TotalPaidOut.String(),
		Outstanding:   a.Outstanding.String(),
		Root:          hexutil.Encode(root[:]),
	}, nil
}

func (s *Server) handleGetBalance(_ context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	addr, rpcErr := parseAddressParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return nil, toRPCError(err)
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		return nil, toRPCError(err)
	}
	return balanceResult{Address: crypto.FormatAddress(addr), Balance: balance.String(), Nonce: nonce}, nil
}

func (s *Server) handleListEvents(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError) {
	if s.history == nil {
		return nil, &RPCError{Code: codeUnavailable, Message: "event history unavailable", status: http.StatusServiceUnavailable}
	}
	var p listEventsParams
	if len(params) > 1 {
		return nil, invalidParams("at most one parameter object expected")
	}
	if len(params) == 1 {
		if err := json.Unmarshal(params[0], &p); err != nil {
			return nil, invalidParams(err.Error())
		}
	}
	q := indexer.Query{Type: strings.TrimSpace(p.Type), Limit: p.Limit}
	if cursor := strings.TrimSpace(p.Cursor); cursor != "" {
		after, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, invalidParams("cursor must be a sequence number")
		}
		q.After = after
	}
	envs, err := s.history.List(ctx, q)
	if err != nil {
		return nil, toRPCError(err)
	}
	return envs, nil
}

func formatStatus(st auction.Status) statusJSON {
	out := statusJSON{
		StartTime:  st.StartTime,
		EndTime:    st.EndTime,
		HighestBid: "0",
		Ended:      st.Ended,
		Paused:     st.Paused,
	}
	if st.HighestBid != nil {
		out.HighestBid = st.HighestBid.String()
	}
	if st.HighestBidder != ([20]byte{}) {
		out.HighestBidder = crypto.FormatAddress(st.HighestBidder)
	}
	return out
}

func parseBidPayload(payload json.RawMessage) (*big.Int, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload with amount required")
	}
	var p placeBidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return parsePositiveBigInt(p.Amount)
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseAddressParam accepts either ["auc1..."] or [{"address":"auc1..."}].
func parseAddressParam(params []json.RawMessage) ([20]byte, *RPCError) {
	if len(params) != 1 {
		return [20]byte{}, invalidParams("address parameter required")
	}
	var raw string
	if err := json.Unmarshal(params[0], &raw); err != nil {
		var obj addressParams
		if err := json.Unmarshal(params[0], &obj); err != nil {
			return [20]byte{}, invalidParams("address must be a string or {\"address\": string}")
		}
		raw = obj.Address
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, invalidParams(err.Error())
	}
	return addr, nil
}
