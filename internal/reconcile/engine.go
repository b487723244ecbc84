// Package reconcile verifies the invariants the write paths are supposed to
// preserve: the movement chain reproduces every stock level, the ledger
// entry chain reproduces every party balance, and batch counters conserve
// the received quantity. It only reads and reports; divergence means a
// writer bypassed a lock and a human has to look.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/observability"
)

const (
	CheckStock   = "stock"
	CheckLedger  = "ledger"
	CheckBatches = "batches"
)

// Discrepancy is one broken invariant.
type Discrepancy struct {
	Check    string `json:"check"`
	OrgID    int64  `json:"orgId"`
	Subject  string `json:"subject"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RunID         string        `json:"runId"`
	RanAt         time.Time     `json:"ranAt"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// StockSnapshot is one stock level with its replayed movement chain.
type StockSnapshot struct {
	OrgID     int64
	VariantID int64
	StoreID   int64
	Quantity  int64
}

// MovementStep is the from/to pair of one movement, in insertion order.
type MovementStep struct {
	ID   int64
	From int64
	To   int64
}

// PartySnapshot is one party's stored master balance.
type PartySnapshot struct {
	OrgID   int64
	Kind    string
	PartyID int64
	Balance decimal.Decimal
}

// ChainResult is the fold of a party's entries.
type ChainResult struct {
	Folded      decimal.Decimal
	LatestAfter decimal.Decimal
	HasEntries  bool
}

// BatchViolation is a batch whose counters no longer sum to the received
// quantity.
type BatchViolation struct {
	OrgID    int64
	BatchID  int64
	Number   string
	Received int64
	Counted  int64
}

// RepositoryPort provides the read-only snapshots the checks fold over.
type RepositoryPort interface {
	StockSnapshots(ctx context.Context) ([]StockSnapshot, error)
	MovementSteps(ctx context.Context, orgID, variantID, storeID int64) ([]MovementStep, error)
	PartySnapshots(ctx context.Context) ([]PartySnapshot, error)
	EntryChain(ctx context.Context, orgID int64, kind string, partyID int64) (ChainResult, error)
	BatchViolations(ctx context.Context) ([]BatchViolation, error)
}

// Engine runs the reconciliation checks.
type Engine struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEngine builds Engine.
func NewEngine(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{repo: repo, logger: logger, metrics: metrics}
}

// Run executes all checks and publishes per-check discrepancy counts.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), RanAt: time.Now().UTC()}

	counts := map[string]int{CheckStock: 0, CheckLedger: 0, CheckBatches: 0}
	for _, check := range []func(context.Context) ([]Discrepancy, error){
		e.checkStock, e.checkLedger, e.checkBatches,
	} {
		found, err := check(ctx)
		if err != nil {
			return Report{}, err
		}
		report.Discrepancies = append(report.Discrepancies, found...)
		for _, d := range found {
			counts[d.Check]++
		}
	}

	for check, n := range counts {
		e.metrics.SetDiscrepancies(check, n)
	}
	for _, d := range report.Discrepancies {
		e.logger.Warn("reconciliation discrepancy",
			"run", report.RunID, "check", d.Check, "org", d.OrgID, "subject", d.Subject,
			"expected", d.Expected, "actual", d.Actual)
	}
	e.logger.Info("reconciliation run finished",
		"run", report.RunID, "discrepancies", len(report.Discrepancies))
	return report, nil
}

// checkStock replays each level's movement chain in insertion order: every
// step must continue from the previous one, and the final to-value must
// equal the stored quantity.
func (e *Engine) checkStock(ctx context.Context) ([]Discrepancy, error) {
	levels, err := e.repo.StockSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: stock snapshots: %w", err)
	}

	var out []Discrepancy
	for _, level := range levels {
		steps, err := e.repo.MovementSteps(ctx, level.OrgID, level.VariantID, level.StoreID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: movement steps: %w", err)
		}
		subject := fmt.Sprintf("variant %d store %d", level.VariantID, level.StoreID)

		replayed := int64(0)
		broken := false
		for i, step := range steps {
			if i > 0 && step.From != steps[i-1].To {
				out = append(out, Discrepancy{
					Check: CheckStock, OrgID: level.OrgID, Subject: subject,
					Expected: fmt.Sprintf("movement %d to start from %d", step.ID, steps[i-1].To),
					Actual:   fmt.Sprintf("starts from %d", step.From),
				})
				broken = true
				break
			}
			replayed = step.To
		}
		if broken {
			continue
		}
		if replayed != level.Quantity {
			out = append(out, Discrepancy{
				Check: CheckStock, OrgID: level.OrgID, Subject: subject,
				Expected: fmt.Sprintf("quantity %d from movement chain", replayed),
				Actual:   fmt.Sprintf("stored quantity %d", level.Quantity),
			})
		}
	}
	return out, nil
}

// checkLedger folds each party's entries and compares both the fold and the
// latest balanceAfter against the stored master balance.
func (e *Engine) checkLedger(ctx context.Context) ([]Discrepancy, error) {
	parties, err := e.repo.PartySnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: party snapshots: %w", err)
	}

	var out []Discrepancy
	for _, party := range parties {
		chain, err := e.repo.EntryChain(ctx, party.OrgID, party.Kind, party.PartyID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: entry chain: %w", err)
		}
		subject := fmt.Sprintf("%s %d", party.Kind, party.PartyID)

		if !chain.HasEntries {
			if !party.Balance.IsZero() {
				out = append(out, Discrepancy{
					Check: CheckLedger, OrgID: party.OrgID, Subject: subject,
					Expected: "zero balance without entries",
					Actual:   party.Balance.String(),
				})
			}
			continue
		}
		if !chain.Folded.Equal(party.Balance) {
			out = append(out, Discrepancy{
				Check: CheckLedger, OrgID: party.OrgID, Subject: subject,
				Expected: "folded entries " + chain.Folded.String(),
				Actual:   "master balance " + party.Balance.String(),
			})
		}
		if !chain.LatestAfter.Equal(chain.Folded) {
			out = append(out, Discrepancy{
				Check: CheckLedger, OrgID: party.OrgID, Subject: subject,
				Expected: "latest balanceAfter " + chain.Folded.String(),
				Actual:   chain.LatestAfter.String(),
			})
		}
	}
	return out, nil
}

func (e *Engine) checkBatches(ctx context.Context) ([]Discrepancy, error) {
	violations, err := e.repo.BatchViolations(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: batch violations: %w", err)
	}
	var out []Discrepancy
	for _, v := range violations {
		out = append(out, Discrepancy{
			Check: CheckBatches, OrgID: v.OrgID,
			Subject:  fmt.Sprintf("batch %s", v.Number),
			Expected: fmt.Sprintf("counters summing to %d", v.Received),
			Actual:   fmt.Sprintf("sum %d", v.Counted),
		})
	}
	return out, nil
}
