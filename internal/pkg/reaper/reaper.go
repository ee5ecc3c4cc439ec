package reaper

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/TobiKellner/FlashKart/internal/pkg/faststore"
	"github.com/TobiKellner/FlashKart/internal/pkg/holdregistry"
	"github.com/TobiKellner/FlashKart/internal/pkg/stockledger"
)

const (
	// DefaultBatchSize bounds one FindExpired fetch.
	DefaultBatchSize = 100
	// DefaultMaxRuntime keeps one invocation under the scheduler cadence.
	DefaultMaxRuntime = 55 * time.Second
	// leaseTTL is deliberately far below the rescheduling interval so a
	// crashed worker's lease cannot outlive the next invocation.
	leaseTTL = 5 * time.Second

	// HeartbeatKey is the liveness record written once per invocation.
	HeartbeatKey = "reaper:heartbeat"

	maxVerboseErrors = 5
)

// Config tunes one reaper invocation.
type Config struct {
	BatchSize  int
	MaxRuntime time.Duration
}

// Reaper sweeps expired holds and drives them through expiration with
// per-hold mutual exclusion and a wall-clock budget. Multiple instances
// may run concurrently; the lease keeps them off each other's holds.
type Reaper struct {
	store    *faststore.Store
	registry *holdregistry.Registry
	ledger   *stockledger.Ledger
	cfg      Config
	owner    string
}

// Report is the outcome of one invocation. Per-hold errors accumulate
// here and never abort the sweep.
type Report struct {
	Scanned    int
	Expired    int
	Released   int
	Skipped    int
	ErrorCount int
	Errors     []error
	Elapsed    time.Duration
}

// New creates a reaper. Zero config fields select the defaults.
func New(store *faststore.Store, registry *holdregistry.Registry, ledger *stockledger.Ledger, cfg Config) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = DefaultMaxRuntime
	}
	hostname, _ := os.Hostname()
	return &Reaper{
		store:    store,
		registry: registry,
		ledger:   ledger,
		cfg:      cfg,
		owner:    fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// RunOnce performs one sweep. It returns an error only for framework-level
// failures (the fast store going away mid-sweep); per-hold failures are
// counted in the report.
func (r *Reaper) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()
	deadline := start.Add(r.cfg.MaxRuntime)
	report := &Report{}

	for {
		if time.Now().After(deadline) {
			log.Infof("[Reaper] runtime budget exceeded after %d expired, exiting cleanly", report.Expired)
			break
		}

		now := time.Now()
		holds, err := r.registry.FindExpired(ctx, r.cfg.BatchSize, now)
		if err != nil {
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("find expired holds: %w", err)
		}
		if len(holds) == 0 {
			break
		}
		report.Scanned += len(holds)

		progressed := r.sweepBatch(ctx, holds, now, deadline, report)
		if !progressed {
			// Everything in the batch is leased elsewhere or failing;
			// rescanning would spin on the same candidates.
			break
		}
	}

	report.Elapsed = time.Since(start)
	r.writeHeartbeat(ctx, report)
	return report, nil
}

// sweepBatch groups candidates by product and expires them, bulk where two
// or more share a product. Returns whether any hold was expired.
func (r *Reaper) sweepBatch(ctx context.Context, holds []*holdregistry.Hold, now time.Time, deadline time.Time, report *Report) bool {
	byProduct := make(map[uint][]*holdregistry.Hold)
	for _, hold := range holds {
		byProduct[hold.ProductID] = append(byProduct[hold.ProductID], hold)
	}

	expiredBefore := report.Expired
	for productID, group := range byProduct {
		if time.Now().After(deadline) {
			break
		}
		if len(group) >= 2 {
			r.expireBulk(ctx, productID, group, now, report)
		} else {
			r.expireOne(ctx, group[0], now, report)
		}
	}
	return report.Expired > expiredBefore
}

// expireOne takes the per-hold lease, re-validates and expires one hold.
func (r *Reaper) expireOne(ctx context.Context, hold *holdregistry.Hold, now time.Time, report *Report) {
	token, acquired, err := r.acquireLease(ctx, hold.ID)
	if err != nil {
		r.recordError(report, fmt.Errorf("lease hold %s: %w", hold.ID, err))
		return
	}
	if !acquired {
		report.Skipped++
		return
	}
	defer r.releaseLease(ctx, hold.ID, token)

	// Re-read under the lease; a concurrent release or payment may have
	// terminalized the hold since the scan.
	current, err := r.registry.Get(ctx, hold.ID)
	if err == holdregistry.ErrHoldNotFound {
		report.Skipped++
		return
	}
	if err != nil {
		r.recordError(report, fmt.Errorf("reread hold %s: %w", hold.ID, err))
		return
	}
	if !current.IsActive() || !current.ExpiredBy(now) {
		report.Skipped++
		return
	}

	result, err := r.registry.Expire(ctx, hold.ID, now)
	if err != nil {
		r.recordError(report, fmt.Errorf("expire hold %s: %w", hold.ID, err))
		return
	}
	if result.AlreadyGone {
		report.Skipped++
		return
	}
	report.Expired++
	report.Released += result.Released
}

// expireBulk leases every hold in the group and expires the leased subset
// in a single scripted round trip.
func (r *Reaper) expireBulk(ctx context.Context, productID uint, group []*holdregistry.Hold, now time.Time, report *Report) {
	leased := make([]string, 0, len(group))
	tokens := make(map[string]string, len(group))
	for _, hold := range group {
		token, acquired, err := r.acquireLease(ctx, hold.ID)
		if err != nil {
			r.recordError(report, fmt.Errorf("lease hold %s: %w", hold.ID, err))
			continue
		}
		if !acquired {
			report.Skipped++
			continue
		}
		leased = append(leased, hold.ID)
		tokens[hold.ID] = token
	}
	defer func() {
		for id, token := range tokens {
			r.releaseLease(ctx, id, token)
		}
	}()

	if len(leased) == 0 {
		return
	}
	if len(leased) == 1 {
		// The group collapsed to a singleton; the per-hold path re-checks
		// state more carefully.
		for _, hold := range group {
			if hold.ID == leased[0] {
				r.releaseLease(ctx, hold.ID, tokens[hold.ID])
				delete(tokens, hold.ID)
				r.expireOne(ctx, hold, now, report)
				return
			}
		}
		return
	}

	expired, released, err := r.registry.BulkExpire(ctx, productID, leased, now)
	if err != nil {
		r.recordError(report, fmt.Errorf("bulk expire product %d: %w", productID, err))
		return
	}
	report.Expired += expired
	report.Released += released
	report.Skipped += len(leased) - expired
}

// acquireLease claims expire_lock:{h} for this worker. The token embeds
// owner, timestamp and a unique suffix so a lease is only ever
// self-released.
func (r *Reaper) acquireLease(ctx context.Context, holdID string) (string, bool, error) {
	token := fmt.Sprintf("%s:%d:%s", r.owner, time.Now().Unix(), uuid.NewString())
	acquired, err := r.store.SetIfAbsent(ctx, holdregistry.ExpireLockKey(holdID), token, leaseTTL)
	return token, acquired, err
}

// releaseLease deletes the lease only when this worker still owns it.
func (r *Reaper) releaseLease(ctx context.Context, holdID string, token string) {
	current, exists, err := r.store.Get(ctx, holdregistry.ExpireLockKey(holdID))
	if err != nil || !exists || current != token {
		return
	}
	if err := r.store.Delete(ctx, holdregistry.ExpireLockKey(holdID)); err != nil {
		log.Warnf("[Reaper] failed to release lease for hold %s: %v", holdID, err)
	}
}

func (r *Reaper) recordError(report *Report, err error) {
	report.ErrorCount++
	if len(report.Errors) < maxVerboseErrors {
		report.Errors = append(report.Errors, err)
		log.Errorf("[Reaper] %v", err)
	}
}

// writeHeartbeat records a liveness snapshot: sweep totals, the live hold
// count and a per-product stock reading, so operators can spot a stuck
// reaper or diverging counters.
func (r *Reaper) writeHeartbeat(ctx context.Context, report *Report) {
	fields := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"owner":      r.owner,
		"scanned":    report.Scanned,
		"expired":    report.Expired,
		"released":   report.Released,
		"skipped":    report.Skipped,
		"errors":     report.ErrorCount,
		"elapsed_ms": report.Elapsed.Milliseconds(),
	}

	if total, err := r.store.SetCard(ctx, holdregistry.StatusSetKey(holdregistry.StatusActive)); err == nil {
		fields["active_holds_total"] = total
	}
	if keys, err := r.store.KeysMatching(ctx, "stock_version:*"); err == nil {
		for _, key := range keys {
			rawID := strings.TrimPrefix(key, "stock_version:")
			productID, err := strconv.ParseUint(rawID, 10, 64)
			if err != nil {
				continue
			}
			snap, err := r.ledger.GetSnapshot(ctx, uint(productID))
			if err != nil {
				continue
			}
			fields["product:"+rawID] = fmt.Sprintf("available=%d,reserved=%d,version=%d", snap.Available, snap.Reserved, snap.Version)
		}
	}

	if err := r.store.HashSetMulti(ctx, HeartbeatKey, fields); err != nil {
		log.Warnf("[Reaper] failed to write heartbeat: %v", err)
	}
}
