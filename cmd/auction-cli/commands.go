package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auctionchain/cmd/internal/passphrase"
	"auctionchain/crypto"
)

var newPassphraseSource = func() *passphrase.Source {
	return passphrase.NewSource("AUCTION_KEY_PASS", "wallet keystore").AllowEmpty()
}

type statusResponse struct {
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	HighestBid    string `json:"highestBid"`
	HighestBidder string `json:"highestBidder"`
	Ended         bool   `json:"ended"`
	Paused        bool   `json:"paused"`
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

func defaultKeystorePath() string {
	if keystorePath != "" {
		return keystorePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "auction-key.json"
	}
	return filepath.Join(home, ".auction", "key.json")
}

func loadKey() (*crypto.PrivateKey, error) {
	path := strings.TrimSpace(keystorePath)
	if path == "" {
		return nil, fmt.Errorf("no keystore configured; pass --keystore or run auction-cli keygen --save-profile")
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("keystore %s not found. run auction-cli keygen first", path)
		}
		return nil, err
	}
	return key, nil
}

// resolveAddress returns the positional address or, when absent, the address
// of the configured keystore.
func resolveAddress(fs *flag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
		key, err := loadKey()
		if err != nil {
			return "", err
		}
		return key.PubKey().Address().String(), nil
	case 1:
		addr, err := crypto.ParseAddress(fs.Arg(0))
		if err != nil {
			return "", err
		}
		return crypto.FormatAddress(addr), nil
	default:
		return "", fmt.Errorf("unexpected positional arguments")
	}
}

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out         string
		force       bool
		saveProfile bool
	)
	fs.StringVar(&out, "out", defaultKeystorePath(), "keystore file to create")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	fs.BoolVar(&saveProfile, "save-profile", false, "record the keystore path in the profile")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, fmt.Errorf("unexpected positional arguments"))
	}
	if _, err := os.Stat(out); err == nil && !force {
		return printError(stderr, fmt.Errorf("%s already exists; use --force to replace it", out))
	}
	pass, err := newPassphraseSource().Get()
	if err != nil {
		return printError(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintf(stdout, "Address:  %s\n", key.PubKey().Address().String())
	fmt.Fprintf(stdout, "Keystore: %s\n", out)
	if saveProfile {
		if profilePath == "" {
			return printError(stderr, fmt.Errorf("no profile path; pass --profile"))
		}
		updated := profile
		updated.Keystore = out
		if err := writeProfile(profilePath, updated); err != nil {
			return printError(stderr, err)
		}
		fmt.Fprintf(stdout, "Profile:  %s\n", profilePath)
	}
	return 0
}

func runAddressCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey()
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runBalanceCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := resolveAddress(fs)
	if err != nil {
		return printError(stderr, err)
	}
	account, err := fetchAccount(addr)
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintf(stdout, "Address: %s\n", account.Address)
	fmt.Fprintf(stdout, "Balance: %s (%s base units)\n", formatAmount(account.Balance, profile.decimals()), account.Balance)
	fmt.Fprintf(stdout, "Nonce:   %d\n", account.Nonce)
	return 0
}

func runBidCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bid", stderr)
	var (
		amountStr string
		raw       bool
	)
	fs.StringVar(&amountStr, "amount", "", "bid amount, e.g. 1.5")
	fs.BoolVar(&raw, "raw", false, "treat --amount as base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, fmt.Errorf("unexpected positional arguments"))
	}
	decimals := profile.decimals()
	if raw {
		decimals = 0
	}
	amount, err := parseAmount(amountStr, decimals)
	if err != nil {
		return printError(stderr, err)
	}
	key, err := loadKey()
	if err != nil {
		return printError(stderr, err)
	}
	result, err := callSigned(key, "auction_placeBid", map[string]string{"amount": amount.String()})
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintf(stdout, "Bid of %s accepted.\n", formatAmount(amount.String(), profile.decimals()))
	return printStatus(stdout, stderr, result)
}

func runWithdrawCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey()
	if err != nil {
		return printError(stderr, err)
	}
	result, err := callSigned(key, "auction_withdraw", nil)
	if err != nil {
		return printError(stderr, err)
	}
	var out struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return printError(stderr, fmt.Errorf("decode withdraw result: %w", err))
	}
	fmt.Fprintf(stdout, "Withdrew %s (%s base units)\n", formatAmount(out.Amount, profile.decimals()), out.Amount)
	return 0
}

func runOwnerCommand(method, name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, fmt.Errorf("unexpected positional arguments"))
	}
	key, err := loadKey()
	if err != nil {
		return printError(stderr, err)
	}
	result, err := callSigned(key, method, nil)
	if err != nil {
		return printError(stderr, err)
	}
	return printStatus(stdout, stderr, result)
}

func runStatusCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	asJSON := fs.Bool("json", false, "print the raw JSON result")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := callRPC("auction_getStatus", nil, false)
	if err != nil {
		return printError(stderr, err)
	}
	if *asJSON {
		printJSONResult(stdout, result)
		return 0
	}
	return printStatus(stdout, stderr, result)
}

func printStatus(stdout, stderr io.Writer, result json.RawMessage) int {
	var st statusResponse
	if err := json.Unmarshal(result, &st); err != nil {
		return printError(stderr, fmt.Errorf("decode status: %w", err))
	}
	bidder := st.HighestBidder
	if bidder == "" {
		bidder = "none"
	}
	fmt.Fprintf(stdout, "Start:          %s\n", time.Unix(st.StartTime, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(stdout, "End:            %s\n", time.Unix(st.EndTime, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(stdout, "Highest bid:    %s\n", formatAmount(st.HighestBid, profile.decimals()))
	fmt.Fprintf(stdout, "Highest bidder: %s\n", bidder)
	fmt.Fprintf(stdout, "Ended:          %t\n", st.Ended)
	fmt.Fprintf(stdout, "Paused:         %t\n", st.Paused)
	return 0
}

func runRemainingCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("remaining", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := callRPC("auction_getRemainingTime", nil, false)
	if err != nil {
		return printError(stderr, err)
	}
	var out struct {
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return printError(stderr, fmt.Errorf("decode remaining time: %w", err))
	}
	fmt.Fprintf(stdout, "%d seconds (%s)\n", out.Remaining, time.Duration(out.Remaining)*time.Second)
	return 0
}

func runPendingCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pending", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := resolveAddress(fs)
	if err != nil {
		return printError(stderr, err)
	}
	result, err := callRPC("auction_pendingReturn", []interface{}{addr}, false)
	if err != nil {
		return printError(stderr, err)
	}
	var out struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return printError(stderr, fmt.Errorf("decode pending return: %w", err))
	}
	fmt.Fprintf(stdout, "%s: %s withdrawable\n", out.Address, formatAmount(out.Amount, profile.decimals()))
	return 0
}

func runEventsCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var (
		eventType string
		cursor    string
		limit     int
	)
	fs.StringVar(&eventType, "type", "", "only events of this type, e.g. auction.bid_placed")
	fs.StringVar(&cursor, "cursor", "", "return events after this sequence")
	fs.IntVar(&limit, "limit", 50, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if limit <= 0 {
		return printError(stderr, fmt.Errorf("--limit must be positive"))
	}
	params := map[string]interface{}{"limit": limit}
	if eventType != "" {
		params["type"] = eventType
	}
	if cursor != "" {
		params["cursor"] = cursor
	}
	result, err := callRPC("auction_listEvents", []interface{}{params}, false)
	if err != nil {
		return printError(stderr, err)
	}
	printJSONResult(stdout, result)
	return 0
}
