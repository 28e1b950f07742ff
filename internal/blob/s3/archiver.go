package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

const (
	summaryFile   = "summary.json"
	positionsFile = "positions.jsonl"
)

// Archiver implements domain.MarketArchiver. Each market lands under
// {prefix}/{id}/ as a summary document plus one JSON line per position.
// A market whose summary already exists is not rewritten.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver. reader and audit may be nil; without a
// reader every call uploads.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "markets"
	}
	return &Archiver{writer: writer, reader: reader, audit: audit, prefix: prefix, now: time.Now}
}

// MarketDir returns the directory a market is archived under.
func (a *Archiver) MarketDir(id string) string {
	return path.Join(a.prefix, id)
}

// ArchiveMarket uploads the positions first and the summary last, so a
// present summary implies a complete archive. It returns the market's
// archive directory.
func (a *Archiver) ArchiveMarket(ctx context.Context, m domain.Market, positions []domain.Position) (string, error) {
	dir := a.MarketDir(m.ID)
	summaryPath := path.Join(dir, summaryFile)

	if a.reader != nil {
		done, err := a.reader.Exists(ctx, summaryPath)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", m.ID, err)
		}
		if done {
			return dir, nil
		}
	}

	lines := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		lines = append(lines, newPositionRecord(p))
	}
	body, err := marshalJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s positions: %w", m.ID, err)
	}
	if err := a.writer.Put(ctx, path.Join(dir, positionsFile), bytes.NewReader(body), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s positions: %w", m.ID, err)
	}

	summary, err := json.MarshalIndent(newMarketSummary(m, len(positions), a.now()), "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s summary: %w", m.ID, err)
	}
	if err := a.writer.Put(ctx, summaryPath, bytes.NewReader(summary), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s summary: %w", m.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": m.ID,
			"path":      dir,
			"positions": len(positions),
		}); err != nil {
			return dir, fmt.Errorf("s3blob: archive %s audit: %w", m.ID, err)
		}
	}
	return dir, nil
}

type marketSummary struct {
	ID              string    `json:"id"`
	QuestionID      string    `json:"question_id"`
	EventName       string    `json:"event_name"`
	Question        string    `json:"question"`
	OutcomeNames    []string  `json:"outcome_names"`
	OutcomeTokens   []string  `json:"outcome_tokens,omitempty"`
	OutcomeTotals   []string  `json:"outcome_totals"`
	ResolvedOutcome *int      `json:"resolved_outcome"`
	State           string    `json:"state"`
	Custody         string    `json:"custody"`
	TotalPrincipal  string    `json:"total_principal"`
	TotalRedeemed   string    `json:"total_redeemed"`
	YieldPool       string    `json:"yield_pool"`
	BetsWithdrawn   string    `json:"bets_withdrawn"`
	YieldPaid       string    `json:"yield_paid"`
	Positions       int       `json:"positions"`
	OpeningTime     time.Time `json:"opening_time"`
	ResolutionTime  time.Time `json:"resolution_time"`
	ArchivedAt      time.Time `json:"archived_at"`
}

func newMarketSummary(m domain.Market, positions int, at time.Time) marketSummary {
	totals := make([]string, len(m.OutcomeTotals))
	for i, t := range m.OutcomeTotals {
		totals[i] = dec(t)
	}
	return marketSummary{
		ID:              m.ID,
		QuestionID:      m.QuestionID.Hex(),
		EventName:       m.EventName,
		Question:        m.Question,
		OutcomeNames:    m.OutcomeNames,
		OutcomeTokens:   m.OutcomeTokens,
		OutcomeTotals:   totals,
		ResolvedOutcome: m.ResolvedOutcome,
		State:           m.State.String(),
		Custody:         m.Custody.Hex(),
		TotalPrincipal:  dec(m.TotalPrincipal),
		TotalRedeemed:   dec(m.TotalRedeemed),
		YieldPool:       dec(m.YieldPool()),
		BetsWithdrawn:   dec(m.BetsWithdrawn),
		YieldPaid:       dec(m.YieldPaid),
		Positions:       positions,
		OpeningTime:     m.OpeningTime.UTC(),
		ResolutionTime:  m.ResolutionTime.UTC(),
		ArchivedAt:      at.UTC(),
	}
}

type positionRecord struct {
	User       string    `json:"user"`
	Outcome    int       `json:"outcome"`
	Principal  string    `json:"principal"`
	YieldShare string    `json:"yield_share"`
	Withdrawn  bool      `json:"withdrawn"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newPositionRecord(p domain.Position) positionRecord {
	return positionRecord{
		User:       p.User.Hex(),
		Outcome:    p.Outcome,
		Principal:  dec(p.Principal),
		YieldShare: dec(p.YieldShare),
		Withdrawn:  p.Withdrawn,
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
}

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
