package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

// fixedResultProber answers every Probe call with the same canned result
// or error, regardless of which command it was asked to run.
type fixedResultProber struct {
	result *types.ScanResult
	err    error
}

func (f *fixedResultProber) Probe(ctx context.Context, cmd types.Command) (types.Response, error) {
	if f.err != nil {
		return types.Response{}, f.err
	}
	return types.Response{ID: cmd.ID, Kind: types.KindFinal, Success: f.result.Success, Result: f.result}, nil
}

var revokedHosts = []types.Host{
	{Rank: 1, Name: "revoked.badssl.com"},
	{Rank: 2, Name: "revoked-rsa-dv.ssl.com"},
}

func TestOneCRLSanityCheckPassesWhenNormalBlocksAndAlteredDoesNot(t *testing.T) {
	normal := &fixedResultProber{result: &types.ScanResult{Success: false, Origin: "connect_fail", Status: -1}}
	altered := &fixedResultProber{result: &types.ScanResult{Success: true}}

	result, err := OneCRLSanityCheck(context.Background(), normal, altered, revokedHosts, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, len(revokedHosts), result.BlockedNormal)
	assert.Equal(t, 0, result.BlockedAltered)
}

func TestOneCRLSanityCheckFailsWhenNormalProfileLetsHostsThrough(t *testing.T) {
	normal := &fixedResultProber{result: &types.ScanResult{Success: true}}
	altered := &fixedResultProber{result: &types.ScanResult{Success: true}}

	result, err := OneCRLSanityCheck(context.Background(), normal, altered, revokedHosts, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 0, result.BlockedNormal)
}

func TestOneCRLSanityCheckFailsWhenAlteredProfileStillBlocks(t *testing.T) {
	normal := &fixedResultProber{result: &types.ScanResult{Success: false, Origin: "connect_fail", Status: -1}}
	altered := &fixedResultProber{result: &types.ScanResult{Success: false, Origin: "connect_fail", Status: -1}}

	result, err := OneCRLSanityCheck(context.Background(), normal, altered, revokedHosts, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, len(revokedHosts), result.BlockedAltered)
}

func TestOneCRLSanityCheckFailsOnBenignRedirectException(t *testing.T) {
	normal := &fixedResultProber{result: &types.ScanResult{Success: false, Origin: "error_handler", Status: 0}}
	altered := &fixedResultProber{result: &types.ScanResult{Success: true}}

	result, err := OneCRLSanityCheck(context.Background(), normal, altered, revokedHosts, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestOneCRLSanityCheckTreatsProbeErrorAsBlocked(t *testing.T) {
	normal := &fixedResultProber{err: errors.New("dial tcp: connection refused")}
	altered := &fixedResultProber{result: &types.ScanResult{Success: true}}

	result, err := OneCRLSanityCheck(context.Background(), normal, altered, revokedHosts, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, len(revokedHosts), result.BlockedNormal)
}

func TestOneCRLSanityCheckErrorsWithNoRevokedHosts(t *testing.T) {
	normal := &fixedResultProber{result: &types.ScanResult{Success: false}}
	altered := &fixedResultProber{result: &types.ScanResult{Success: true}}

	_, err := OneCRLSanityCheck(context.Background(), normal, altered, nil, time.Second)
	require.Error(t, err)
}
