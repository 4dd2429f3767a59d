package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// RoundArchiver implements domain.Archiver. Each run writes one JSONL file
// of pools and one of their bids for the [since, before) window. A window
// whose pool file already exists is skipped, so reruns are harmless.
type RoundArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	pools  domain.PoolStore
	bids   domain.BidStore
	audit  domain.AuditStore
}

// NewRoundArchiver creates a RoundArchiver.
func NewRoundArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	pools domain.PoolStore,
	bids domain.BidStore,
	audit domain.AuditStore,
) *RoundArchiver {
	return &RoundArchiver{writer: writer, reader: reader, pools: pools, bids: bids, audit: audit}
}

// ArchiveRounds exports completed pools last updated in [since, before) and
// every bid belonging to them.
func (a *RoundArchiver) ArchiveRounds(ctx context.Context, since, before time.Time) (domain.ArchiveResult, error) {
	poolPath := ArchivePath("pools", before)
	res := domain.ArchiveResult{Path: poolPath}

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, poolPath)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive rounds: %w", err)
		}
		if exists {
			res.Skipped = true
			return res, nil
		}
	}

	pools, err := a.pools.ListCompletedBetween(ctx, since, before)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive rounds query pools: %w", err)
	}
	if len(pools) == 0 {
		return res, nil
	}

	var bids []domain.Bid
	for _, p := range pools {
		pb, err := a.bids.ListByPool(ctx, p.ID)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive rounds query bids of %s: %w", p.ID, err)
		}
		bids = append(bids, pb...)
	}

	// Bids first: the pool file marks the window as done.
	if len(bids) > 0 {
		if err := a.upload(ctx, ArchivePath("bids", before), bids); err != nil {
			return res, err
		}
	}
	if err := a.upload(ctx, poolPath, pools); err != nil {
		return res, err
	}
	res.Pools = int64(len(pools))
	res.Bids = int64(len(bids))

	if err := a.audit.Log(ctx, domain.AuditEntry{
		Event: domain.AuditArchiveRounds,
		Detail: map[string]any{
			"path":   poolPath,
			"pools":  res.Pools,
			"bids":   res.Bids,
			"since":  since.Format(time.RFC3339),
			"before": before.Format(time.RFC3339),
		},
	}); err != nil {
		return res, fmt.Errorf("s3blob: archive rounds audit log: %w", err)
	}
	return res, nil
}

func (a *RoundArchiver) upload(ctx context.Context, path string, records any) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// ArchivePath builds the key for a window ending at before:
//
//	archive/pools/2025-01/2025-01-15.jsonl
func ArchivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("2006-01-02"))
}

// marshalJSONL encodes a slice as newline-delimited JSON.
func marshalJSONL(records any) ([]byte, error) {
	var items []any
	switch v := records.(type) {
	case []domain.Pool:
		for _, r := range v {
			items = append(items, r)
		}
	case []domain.Bid:
		for _, r := range v {
			items = append(items, r)
		}
	default:
		return nil, fmt.Errorf("unsupported record type %T", records)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range items {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*RoundArchiver)(nil)
