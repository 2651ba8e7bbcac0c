// Package audit writes the append-only AuditLog (§3): one row per inbound
// call, including denials, carrying the quoted/charged sats and policy
// outcome. Writes are async and batched so the call pipeline never blocks
// on the audit insert; the Transaction row remains the ledger's source of
// truth if a crash loses a buffered entry (§5 ordering guarantees).
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/ids"
)

// PolicyResult values (§3).
const (
	PolicyAllowed = "allowed"
	PolicyDenied  = "denied"
)

// Entry is a single AuditLog row (§3). ID is generated by the caller (the
// pipeline) rather than by the Writer, so the same id can be reused as the
// ledger's Hold/Debit reference_id, correlating a call's ledger rows with
// its audit row.
type Entry struct {
	ID                string
	AgentID           string
	ServiceSlug       string
	Capability        string
	Operation         string
	PolicyResult      string
	PolicyReason      string
	QuotedSats        int64
	ChargedSats       int64
	UpstreamStatus    int
	UpstreamLatencyMs int64
	ResponseMeta      json.RawMessage
	Error             string
	ClientIP          *netip.Addr
}

// Writer is an async, buffered AuditLog writer, grounded on the teacher's
// batching audit.Writer but flattened: there is no per-tenant schema to
// group flushes by, so every entry lands in one audit_logs table.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits once the context is
// cancelled (or Close is called) and the pending entries are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// pipeline; if the buffer is full the entry is dropped and a warning logged
// — the Transaction row still carries the authoritative ledger effect.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"agent_id", entry.AgentID, "service", entry.ServiceSlug, "capability", entry.Capability)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	for _, e := range entries {
		var ip *string
		if e.ClientIP != nil {
			s := e.ClientIP.String()
			ip = &s
		}
		_, err := conn.Exec(ctx, `
			INSERT INTO audit_logs (
				id, agent_id, service_slug, capability, operation,
				policy_result, policy_reason, quoted_sats, charged_sats,
				upstream_status, upstream_latency_ms, response_meta, error,
				client_ip, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
		`,
			auditID(e.ID), e.AgentID, e.ServiceSlug, nullIfEmpty(e.Capability), nullIfEmpty(e.Operation),
			e.PolicyResult, nullIfEmpty(e.PolicyReason), e.QuotedSats, e.ChargedSats,
			nullIfZero(e.UpstreamStatus), nullIfZero64(e.UpstreamLatencyMs), e.ResponseMeta, nullIfEmpty(e.Error),
			ip,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"agent_id", e.AgentID, "service", e.ServiceSlug)
		}
	}
}

// auditID returns id if the caller supplied one, else generates a fresh one
// — callers that don't need ledger correlation (e.g. ad hoc internal
// logging) can leave Entry.ID empty.
func auditID(id string) string {
	if id != "" {
		return id
	}
	return ids.New(ids.PrefixAudit)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func nullIfZero64(i int64) *int64 {
	if i == 0 {
		return nil
	}
	return &i
}

// ClientIP extracts the caller's IP from the request, preferring
// X-Forwarded-For and X-Real-IP over RemoteAddr — ported from the teacher's
// audit.clientIP, the one call site that actually needs it in this repo.
func ClientIP(remoteAddr, xForwardedFor, xRealIP string) netip.Addr {
	if xForwardedFor != "" {
		parts := strings.SplitN(xForwardedFor, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xRealIP != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xRealIP)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
