package traceability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GapSyncResult summarises a reconciliation of stored gaps with findings
type GapSyncResult struct {
	Opened       []GapAction
	Reopened     []GapAction
	AutoResolved []GapAction
	Unchanged    int
}

// GapDetector turns propagation findings into durable gap actions.
// Gaps are keyed by (order, reason), so repeated recomputation of an
// unchanged graph leaves the stored gaps untouched.
type GapDetector struct {
	gaps GapActionRepository
}

// NewGapDetector creates a new GapDetector
func NewGapDetector(gaps GapActionRepository) *GapDetector {
	return &GapDetector{gaps: gaps}
}

// Sync reconciles the gaps of every evaluated order with the findings of
// the session that evaluated them. Findings open or reopen gaps; pending
// gaps of an evaluated order that were not found again are auto-resolved.
func (d *GapDetector) Sync(ctx context.Context, session *Session) (*GapSyncResult, error) {
	result := &GapSyncResult{}
	for _, poID := range session.Evaluated() {
		if err := d.syncOrder(ctx, poID, session.FindingsFor(poID), result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SyncOrders reconciles only the listed orders, each of which must have
// been evaluated by session.
func (d *GapDetector) SyncOrders(ctx context.Context, session *Session, poIDs ...uuid.UUID) (*GapSyncResult, error) {
	result := &GapSyncResult{}
	for _, poID := range poIDs {
		if _, ok := session.ScoreOf(poID); !ok {
			return nil, fmt.Errorf("order %s was not evaluated by this session", poID)
		}
		if err := d.syncOrder(ctx, poID, session.FindingsFor(poID), result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (d *GapDetector) syncOrder(ctx context.Context, poID uuid.UUID, findings []GapFinding, result *GapSyncResult) error {
	existing, err := d.gaps.FindByPO(ctx, poID)
	if err != nil {
		return fmt.Errorf("failed to load gaps of order %s: %w", poID, err)
	}
	byReason := make(map[GapReason]*GapAction, len(existing))
	for i := range existing {
		byReason[existing[i].Reason] = &existing[i]
	}

	found := make(map[GapReason]bool, len(findings))
	for _, f := range findings {
		found[f.Reason] = true

		gap, ok := byReason[f.Reason]
		if !ok {
			gap = NewGapAction(f)
			if err := d.gaps.Save(ctx, gap); err != nil {
				return fmt.Errorf("failed to open gap: %w", err)
			}
			result.Opened = append(result.Opened, *gap)
			continue
		}

		changed, reopened := gap.Redetect(f)
		if !changed {
			result.Unchanged++
			continue
		}
		if err := d.gaps.Save(ctx, gap); err != nil {
			return fmt.Errorf("failed to update gap %s: %w", gap.ID, err)
		}
		if reopened {
			result.Reopened = append(result.Reopened, *gap)
		}
	}

	for reason, gap := range byReason {
		if found[reason] || !gap.IsPending() {
			continue
		}
		gap.AutoResolve()
		if err := d.gaps.Save(ctx, gap); err != nil {
			return fmt.Errorf("failed to resolve gap %s: %w", gap.ID, err)
		}
		result.AutoResolved = append(result.AutoResolved, *gap)
	}
	return nil
}

// OpenGapsFor returns the pending gaps a company is responsible for
func (d *GapDetector) OpenGapsFor(ctx context.Context, companyID uuid.UUID) ([]GapAction, error) {
	return d.gaps.FindPendingByCompany(ctx, companyID)
}

// Resolve closes a gap on behalf of a user. It does not recompute scores.
func (d *GapDetector) Resolve(ctx context.Context, gapID, resolvedBy uuid.UUID, notes string) (*GapAction, error) {
	gap, err := d.gaps.FindByID(ctx, gapID)
	if err != nil {
		return nil, err
	}
	if err := gap.Resolve(resolvedBy, notes); err != nil {
		return nil, err
	}
	if err := d.gaps.Save(ctx, gap); err != nil {
		return nil, fmt.Errorf("failed to save gap %s: %w", gap.ID, err)
	}
	return gap, nil
}
