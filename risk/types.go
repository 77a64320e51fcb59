// risk/types.go
package risk

import (
	"context"
	"fmt"

	"trade_exec_go/position"
)

// ViolationKind classifies a violated risk constraint.
type ViolationKind string

const (
	ViolationBudget    ViolationKind = "BUDGET"
	ViolationLeverage  ViolationKind = "LEVERAGE"
	ViolationExposure  ViolationKind = "EXPOSURE"
	ViolationDailyLoss ViolationKind = "DAILY_LOSS"
)

// Violation is one violated constraint. It implements error so validation
// paths can return it directly while callers still branch on Kind.
type Violation struct {
	Kind    ViolationKind
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// CheckResult aggregates every violated constraint found by an audit.
type CheckResult struct {
	Allowed    bool
	Violations []Violation
}

// Recommendation is the mitigation a risk score calls for.
type Recommendation string

const (
	RecommendContinue       Recommendation = "CONTINUE"
	RecommendReduceExposure Recommendation = "REDUCE_EXPOSURE"
	RecommendEmergencyStop  Recommendation = "EMERGENCY_STOP"
)

// Score is the normalized composite risk assessment for one trader.
type Score struct {
	TraderID       string
	ExposureRatio  float64
	LeverageRatio  float64
	LossRatio      float64
	Composite      float64
	Recommendation Recommendation
}

// PositionProvider is the narrow view of the position lifecycle owner the
// risk manager consumes. The position manager implements it; injecting the
// interface here is what breaks the otherwise circular dependency between
// risk approval and position data.
type PositionProvider interface {
	PositionsByTrader(traderID string) []*position.ManagedPosition
	AllPositions() []*position.ManagedPosition
	HistoryByTrader(traderID string) []position.History
	ClosePosition(ctx context.Context, positionID, reason string) (*position.History, error)
}

// StopHandler is the asynchronous callback the orchestration layer registers
// to halt a trader's trading loop after an emergency stop.
type StopHandler func(traderID string) error
