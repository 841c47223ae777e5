package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tlscanary/tlscanary/internal/sources"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

// RevokedHostsHandle names the bundled sources handle OneCRLSanityCheck
// probes: a small set of hosts whose certificates are permanently
// revoked, so the check never depends on the reachability of any single
// well-known revoked-cert test site.
const RevokedHostsHandle = "revoked"

// DefaultRevokedHosts seeds the revoked handle the first time a sources
// directory is opened without one.
var DefaultRevokedHosts = []types.Host{
	{Rank: 1, Name: "revoked.badssl.com"},
	{Rank: 2, Name: "revoked-rsa-dv.ssl.com"},
	{Rank: 3, Name: "revoked-rsa-ev.ssl.com"},
	{Rank: 4, Name: "revoked-ecc-dv.ssl.com"},
}

// EnsureRevokedHosts loads the revoked handle from db, writing
// DefaultRevokedHosts into it on first use -- loaded the same way as any
// other sources CSV afterward.
func EnsureRevokedHosts(db *sources.DB) (*sources.Sources, error) {
	if src, err := db.Read(RevokedHostsHandle); err == nil {
		return src, nil
	}
	if err := db.Write(RevokedHostsHandle, DefaultRevokedHosts); err != nil {
		return nil, fmt.Errorf("onecrl: bundle revoked hosts: %w", err)
	}
	return db.Read(RevokedHostsHandle)
}

// disableOCSPPrefs isolates OneCRL as the mechanism under test: OCSP
// would also flag these hosts revoked, which would pass the check even
// with OneCRL itself disabled.
var disableOCSPPrefs = json.RawMessage(`{"security.OCSP.enabled":0}`)

// OneCRLCheckResult is the outcome of probing the revoked host set
// against both the normal and altered profiles.
type OneCRLCheckResult struct {
	Passed         bool
	Detail         string
	Total          int
	BlockedNormal  int
	BlockedAltered int
}

// OneCRLSanityCheck implements one_crl_sanity_check: a regression run
// against a build whose revocation checking is broken produces
// meaningless results, so before the first pass the revoked host set is
// probed twice -- once against the test build's normal profile, which
// must block every host, and once against its altered profile (the same
// build, with OneCRL entries stripped from the profile), which must
// block none. Either violation aborts the run.
func OneCRLSanityCheck(ctx context.Context, normal, altered Prober, hosts []types.Host, timeout time.Duration) (OneCRLCheckResult, error) {
	if len(hosts) == 0 {
		return OneCRLCheckResult{}, fmt.Errorf("onecrl: no revoked hosts configured")
	}

	normalResults := probeWithPrefs(ctx, normal, hosts, timeout, disableOCSPPrefs)
	alteredResults := probeWithPrefs(ctx, altered, hosts, timeout, disableOCSPPrefs)

	blockedNormal := len(Failures(normalResults))
	blockedAltered := len(Failures(alteredResults))

	result := OneCRLCheckResult{
		Total:          len(hosts),
		BlockedNormal:  blockedNormal,
		BlockedAltered: blockedAltered,
	}

	switch {
	case blockedNormal != len(hosts):
		result.Detail = fmt.Sprintf("normal profile blocked only %d/%d known-revoked hosts; OneCRL enforcement appears broken", blockedNormal, len(hosts))
	case blockedAltered != 0:
		result.Detail = fmt.Sprintf("altered profile blocked %d/%d hosts despite its OneCRL entries being removed", blockedAltered, len(hosts))
	default:
		result.Passed = true
		result.Detail = "revoked hosts blocked with OneCRL enabled, reachable with it stripped"
	}

	telemetry.GetGlobalEventLog().LogOneCRLResult(result.Passed, result.Detail)
	return result, nil
}

// probeWithPrefs probes hosts sequentially against p with a fixed pref
// override on every command, mirroring one_crl_sanity_check's own
// run_test call (num_workers=1, n_per_worker=1): the sanity check never
// needs the full pool's concurrency.
func probeWithPrefs(ctx context.Context, p Prober, hosts []types.Host, timeout time.Duration, prefs json.RawMessage) []types.ScanResult {
	results := make([]types.ScanResult, len(hosts))
	for i, h := range hosts {
		cmdCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			cmdCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		cmd := types.Command{
			ID:      uuid.NewString(),
			Mode:    types.ModeScan,
			Host:    h.Name,
			Rank:    h.Rank,
			Timeout: timeout.Milliseconds(),
			Prefs:   prefs,
		}

		resp, err := p.Probe(cmdCtx, cmd)
		if cancel != nil {
			cancel()
		}
		if err != nil || resp.Result == nil {
			results[i] = types.WithErrorType(types.ScanResult{Rank: h.Rank, Host: h.Name, Success: false, Error: errString(err)})
			continue
		}
		results[i] = types.WithErrorType(*resp.Result)
	}
	return results
}
