package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle state of a competition. Transitions are strictly
// forward (Setup -> Voting -> Active -> Closed -> Resolved); Cancelled is
// reachable from any non-terminal phase.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseVoting    Phase = "voting"
	PhaseActive    Phase = "active"
	PhaseClosed    Phase = "closed"
	PhaseResolved  Phase = "resolved"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseCancelled
}

// Next returns the forward successor of the phase. Terminal phases and
// Cancelled have no successor.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseSetup:
		return PhaseVoting, true
	case PhaseVoting:
		return PhaseActive, true
	case PhaseActive:
		return PhaseClosed, true
	case PhaseClosed:
		return PhaseResolved, true
	default:
		return "", false
	}
}

type Competition struct {
	ID string `gorm:"primaryKey;type:text"`

	TokenAID     string `gorm:"type:text;index;not null"`
	TokenBID     string `gorm:"type:text;index;not null"`
	TokenASymbol string `gorm:"type:varchar(20);not null"`
	TokenBSymbol string `gorm:"type:varchar(20);not null"`

	Phase Phase `gorm:"type:varchar(20);not null;index;default:'setup'"`

	CreatedAt     time.Time `gorm:"type:timestamptz;not null"`
	StartTime     time.Time `gorm:"type:timestamptz;not null;index"`
	VotingEndTime time.Time `gorm:"type:timestamptz;not null"`
	EndTime       time.Time `gorm:"type:timestamptz;not null;index"`

	// Economic fields. Pools and participant count are written by the
	// betting subsystem; the scheduler only reads them.
	StakeAmount      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	FeeBps           int             `gorm:"not null;default:1500"`
	TotalPool        decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TokenAPool       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TokenBPool       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ParticipantCount int             `gorm:"not null;default:0"`

	// Outcome fields, populated at resolution only.
	TokenAStartTWAP *decimal.Decimal `gorm:"type:numeric(30,10)"`
	TokenAEndTWAP   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	TokenBStartTWAP *decimal.Decimal `gorm:"type:numeric(30,10)"`
	TokenBEndTWAP   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	TokenAChangePct *decimal.Decimal `gorm:"type:numeric(20,10)"`
	TokenBChangePct *decimal.Decimal `gorm:"type:numeric(20,10)"`
	WinnerTokenID   *string          `gorm:"type:text"`
	Refundable      bool             `gorm:"not null;default:false"`
	ResolvedAt      *time.Time       `gorm:"type:timestamptz"`
	SettledAt       *time.Time       `gorm:"type:timestamptz"`
	CancelReason    *string          `gorm:"type:text"`

	IsAutomated bool `gorm:"not null;default:false;index"`
}

func (Competition) TableName() string {
	return "competitions"
}
