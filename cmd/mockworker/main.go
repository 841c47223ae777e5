// Command mockworker is a reference implementation of the worker wire
// protocol: it listens on a TCP address, accepts one controller
// connection, and answers scan/info/useprofile/setprefs/setid/quit/wakeup
// commands with a synthetic ack followed by a final response. It never
// touches a real network or TLS stack -- its scan outcomes are derived
// deterministically from the hostname, for exercising the pool/pipeline
// packages in integration tests without a real browser build installed.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/tlscanary/tlscanary/internal/types"
)

func main() {
	addr := flag.String("listen", "127.0.0.1:0", "address to listen for controller commands on")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockworker: listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(ln.Addr().String())

	conn, err := ln.Accept()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockworker: accept: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	serve(conn)
}

func serve(conn net.Conn) {
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := json.NewEncoder(conn)

	for reader.Scan() {
		var cmd types.Command
		if err := json.Unmarshal(reader.Bytes(), &cmd); err != nil {
			continue
		}

		_ = writer.Encode(types.Response{ID: cmd.ID, Kind: types.KindAck, Success: true})

		resp := handle(cmd)
		if err := writer.Encode(resp); err != nil {
			return
		}

		if cmd.Mode == types.ModeQuit {
			return
		}
	}
}

func handle(cmd types.Command) types.Response {
	switch cmd.Mode {
	case types.ModeInfo:
		return types.Response{
			ID: cmd.ID, Kind: types.KindFinal, Success: true,
			Result: &types.ScanResult{
				Info: map[string]any{
					"nssVersion":  "3.90",
					"nsprVersion": "4.35",
					"appVersion":  "128.0",
					"branch":      "mock",
				},
			},
		}

	case types.ModeScan:
		return types.Response{ID: cmd.ID, Kind: types.KindFinal, Success: true, Result: syntheticResult(cmd)}

	case types.ModeUseProfile, types.ModeSetPrefs, types.ModeSetID, types.ModeWakeup:
		return types.Response{ID: cmd.ID, Kind: types.KindFinal, Success: true}

	case types.ModeQuit:
		return types.Response{ID: cmd.ID, Kind: types.KindFinal, Success: true}

	default:
		return types.Response{ID: cmd.ID, Kind: types.KindFinal, Success: false, Error: fmt.Sprintf("unknown mode %q", cmd.Mode)}
	}
}

// syntheticResult derives a deterministic success/failure from the
// hostname so repeated runs against mockworker are reproducible: a host
// "fails" if the first byte of its sha256 digest is below a fixed
// threshold, giving a stable ~10% failure rate across any host set.
func syntheticResult(cmd types.Command) *types.ScanResult {
	sum := sha256.Sum256([]byte(cmd.Host))
	fails := sum[0] < 26

	r := &types.ScanResult{
		Rank:       cmd.Rank,
		Host:       cmd.Host,
		Success:    !fails,
		DurationMs: int64(sum[1]) + 10,
	}
	if fails {
		r.Status = -1
		r.Origin = "connect_fail"
		r.Error = "synthetic handshake failure"
	}
	if cmd.GetCerts && !fails {
		r.CertHashes = []string{fmt.Sprintf("%x", sum[:8])}
	}
	return r
}
