package rpc

import (
	"errors"
	"net/http"

	"auctionchain/core"
	"auctionchain/native/auction"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeUnavailable    = -32002
)

// Auction failures occupy -32030 and below; the values are part of the wire
// contract and must not be renumbered.
const (
	codeOnlyOwner         = -32030
	codeContractPaused    = -32031
	codeAuctionNotActive  = -32032
	codeBidTooLow         = -32033
	codeNoFunds           = -32034
	codeTransferFailed    = -32035
	codeAuctionNotEnded   = -32036
	codeAlreadyEnded      = -32037
	codeReentrantCall     = -32038
	codeAlreadyInState    = -32039
	codeInsufficientFunds = -32040
	codeInvalidAmount     = -32041
	codeInvalidCaller     = -32042
	codeNotDeployed       = -32043
	codeStaleNonce        = -32044
	codeInvalidSignature  = -32045
)

var errorTable = []struct {
	err    error
	code   int
	status int
}{
	// Wrapped causes are listed before the errors that may wrap them.
	{auction.ErrInsufficientFunds, codeInsufficientFunds, http.StatusConflict},
	{auction.ErrTransferFailed, codeTransferFailed, http.StatusConflict},
	{auction.ErrReentrantCall, codeReentrantCall, http.StatusConflict},
	{auction.ErrOnlyOwner, codeOnlyOwner, http.StatusForbidden},
	{auction.ErrContractIsPaused, codeContractPaused, http.StatusConflict},
	{auction.ErrAuctionNotActive, codeAuctionNotActive, http.StatusConflict},
	{auction.ErrBidTooLow, codeBidTooLow, http.StatusConflict},
	{auction.ErrNoFundsToWithdraw, codeNoFunds, http.StatusConflict},
	{auction.ErrAuctionNotEnded, codeAuctionNotEnded, http.StatusConflict},
	{auction.ErrAuctionAlreadyEnded, codeAlreadyEnded, http.StatusConflict},
	{auction.ErrAlreadyInState, codeAlreadyInState, http.StatusConflict},
	{auction.ErrInvalidAmount, codeInvalidAmount, http.StatusBadRequest},
	{auction.ErrInvalidCaller, codeInvalidCaller, http.StatusBadRequest},
	{auction.ErrNotDeployed, codeNotDeployed, http.StatusServiceUnavailable},
	{core.ErrStaleNonce, codeStaleNonce, http.StatusConflict},
	{core.ErrInvalidSignature, codeInvalidSignature, http.StatusUnauthorized},
	{core.ErrNodeClosed, codeUnavailable, http.StatusServiceUnavailable},
}

// toRPCError maps an engine or node error onto its JSON-RPC representation.
// The message is the stable reason label; data carries the full error text.
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			message := auction.Reason(err)
			switch entry.err {
			case core.ErrStaleNonce:
				message = "stale_nonce"
			case core.ErrInvalidSignature:
				message = "invalid_signature"
			case core.ErrNodeClosed:
				message = "unavailable"
			}
			return &RPCError{Code: entry.code, Message: message, Data: err.Error(), status: entry.status}
		}
	}
	return &RPCError{Code: codeServerError, Message: "internal_error", Data: err.Error(), status: http.StatusInternalServerError}
}

func invalidParams(detail string) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: detail, status: http.StatusBadRequest}
}
