package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = b
	m.puts = append(m.puts, p)
	return nil
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[p]
	return ok, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledMarket() (domain.Market, []domain.Position) {
	won := 0
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := domain.Market{
		ID:              "m1",
		EventName:       "final",
		OutcomeNames:    []string{"home", "away"},
		OutcomeCount:    2,
		State:           domain.MarketStateResolved,
		ResolvedOutcome: &won,
		OutcomeTotals:   []*uint256.Int{uint256.NewInt(300), uint256.NewInt(200)},
		TotalPrincipal:  uint256.NewInt(500),
		TotalRedeemed:   uint256.NewInt(560),
		BetsWithdrawn:   uint256.NewInt(500),
		YieldPaid:       uint256.NewInt(60),
	}
	positions := []domain.Position{
		{MarketID: "m1", User: common.HexToAddress("0x01"), Outcome: 0, Principal: uint256.NewInt(300), Withdrawn: true, YieldShare: uint256.NewInt(60), UpdatedAt: at},
		{MarketID: "m1", User: common.HexToAddress("0x02"), Outcome: 1, Principal: uint256.NewInt(200), Withdrawn: true, YieldShare: uint256.NewInt(0), UpdatedAt: at},
	}
	return m, positions
}

func TestArchiveMarket(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit, "")
	a.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	m, positions := settledMarket()
	dir, err := a.ArchiveMarket(context.Background(), m, positions)
	require.NoError(t, err)
	assert.Equal(t, "markets/m1", dir)
	assert.Equal(t, []string{"markets/m1/positions.jsonl", "markets/m1/summary.json"}, blobs.puts)
	assert.Equal(t, []string{"archive.market"}, audit.events)

	var summary marketSummary
	require.NoError(t, json.Unmarshal(blobs.objects["markets/m1/summary.json"], &summary))
	assert.Equal(t, "60", summary.YieldPool)
	assert.Equal(t, []string{"300", "200"}, summary.OutcomeTotals)
	assert.Equal(t, "resolved", summary.State)
	require.NotNil(t, summary.ResolvedOutcome)
	assert.Equal(t, 0, *summary.ResolvedOutcome)
	assert.Equal(t, 2, summary.Positions)

	sc := bufio.NewScanner(bytes.NewReader(blobs.objects["markets/m1/positions.jsonl"]))
	var records []positionRecord
	for sc.Scan() {
		var r positionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		records = append(records, r)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "60", records[0].YieldShare)
	assert.Equal(t, "200", records[1].Principal)
}

func TestArchiveMarketSkipsExisting(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil, "cold")
	m, positions := settledMarket()

	_, err := a.ArchiveMarket(context.Background(), m, positions)
	require.NoError(t, err)
	dir, err := a.ArchiveMarket(context.Background(), m, positions)
	require.NoError(t, err)

	assert.Equal(t, "cold/m1", dir)
	assert.Len(t, blobs.puts, 2)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", withScheme("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://r2.dev", withScheme("https://r2.dev", false))
}
