package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	rpcEndpoint  = defaultRPCEndpoint() // RPC_URL, --rpc or the profile rpcURL
	rpcAuthToken = os.Getenv("AUCTION_RPC_TOKEN")
	profilePath  = defaultProfilePath()
	keystorePath = os.Getenv("AUCTION_KEYSTORE")
	profile      Profile
)

// globalOverrides records which globals were set explicitly so the profile
// only fills the gaps.
type globalOverrides struct {
	rpc      bool
	token    bool
	keystore bool
	profile  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, overrides, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	p, err := loadProfile(profilePath, overrides.profile)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	profile = p
	if !overrides.rpc && os.Getenv("RPC_URL") == "" && p.RPCURL != "" {
		rpcEndpoint = p.RPCURL
	}
	if !overrides.token && rpcAuthToken == "" {
		rpcAuthToken = p.Token
	}
	if !overrides.keystore && keystorePath == "" {
		keystorePath = p.Keystore
	}

	command := args[0]
	switch command {
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "address":
		return runAddressCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalanceCommand(args[1:], stdout, stderr)
	case "bid":
		return runBidCommand(args[1:], stdout, stderr)
	case "withdraw":
		return runWithdrawCommand(args[1:], stdout, stderr)
	case "end":
		return runOwnerCommand("auction_endAuction", "end", args[1:], stdout, stderr)
	case "pause":
		return runOwnerCommand("auction_pause", "pause", args[1:], stdout, stderr)
	case "unpause":
		return runOwnerCommand("auction_unpause", "unpause", args[1:], stdout, stderr)
	case "status":
		return runStatusCommand(args[1:], stdout, stderr)
	case "remaining":
		return runRemainingCommand(args[1:], stdout, stderr)
	case "pending":
		return runPendingCommand(args[1:], stdout, stderr)
	case "events":
		return runEventsCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, globalOverrides, error) {
	var o globalOverrides
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		var target *string
		var seen *bool
		switch name {
		case "--rpc":
			target, seen = &rpcEndpoint, &o.rpc
		case "--token":
			target, seen = &rpcAuthToken, &o.token
		case "--keystore":
			target, seen = &keystorePath, &o.keystore
		case "--profile":
			target, seen = &profilePath, &o.profile
		default:
			out = append(out, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, o, fmt.Errorf("missing value for %s", name)
			}
			value = args[i+1]
			i++
		}
		*target = value
		*seen = true
	}
	return out, o, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: auction-cli [--rpc URL] [--token JWT] [--keystore PATH] [--profile PATH] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Keys:")
	fmt.Fprintln(w, "  keygen [--out PATH] [--save-profile]   create an encrypted keystore")
	fmt.Fprintln(w, "  address                                print the keystore address")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Auction:")
	fmt.Fprintln(w, "  bid --amount N [--raw]                 place or raise a bid")
	fmt.Fprintln(w, "  withdraw                               collect outbid funds")
	fmt.Fprintln(w, "  end | pause | unpause                  owner operations")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  balance [address]                      account balance and nonce")
	fmt.Fprintln(w, "  status                                 auction status")
	fmt.Fprintln(w, "  remaining                              seconds until the bidding window closes")
	fmt.Fprintln(w, "  pending [address]                      withdrawable amount")
	fmt.Fprintln(w, "  events [--type T] [--cursor N] [--limit N]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Passphrases are read from AUCTION_KEY_PASS or prompted on the terminal.")
}
