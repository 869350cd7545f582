package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tokenduel/internal/models"
)

type ListCompetitionsParams struct {
	Phase       *models.Phase
	IsAutomated *bool
	Since       *time.Time
	Limit       int
	Offset      int
	OrderBy     string
	Asc         *bool
}

// PairUsage records that a token pair was used by a competition created at
// CreatedAt. Used by the selector's anti-repetition filter.
type PairUsage struct {
	TokenAID  string
	TokenBID  string
	CreatedAt time.Time
}

// CompetitionOutcome carries the resolution result written in one update.
type CompetitionOutcome struct {
	TokenAStartTWAP decimal.Decimal
	TokenAEndTWAP   decimal.Decimal
	TokenBStartTWAP decimal.Decimal
	TokenBEndTWAP   decimal.Decimal
	TokenAChangePct decimal.Decimal
	TokenBChangePct decimal.Decimal
	WinnerTokenID   *string
	Refundable      bool
	ResolvedAt      time.Time
}

// Repository is the narrow persistence surface the scheduler, selector,
// aggregator and TWAP engine depend on. Everything else about storage is an
// implementation detail of the gorm store.
type Repository interface {
	// Competitions.
	LoadOpenCompetitions(ctx context.Context) ([]models.Competition, error)
	InsertCompetition(ctx context.Context, item *models.Competition) error
	GetCompetitionByID(ctx context.Context, id string) (*models.Competition, error)
	ListCompetitions(ctx context.Context, params ListCompetitionsParams) ([]models.Competition, error)
	CountCompetitions(ctx context.Context, params ListCompetitionsParams) (int64, error)
	CountOpenCompetitions(ctx context.Context) (int64, error)
	UpdateCompetitionPhase(ctx context.Context, id string, phase models.Phase) error
	SaveCompetitionOutcome(ctx context.Context, id string, outcome CompetitionOutcome) error
	MarkCompetitionCancelled(ctx context.Context, id string, reason string, at time.Time) error
	MarkCompetitionSettled(ctx context.Context, id string, at time.Time) error
	ListUnsettled(ctx context.Context, limit int) ([]models.Competition, error)
	ListRecentPairUsage(ctx context.Context, since time.Time) ([]PairUsage, error)

	// Tokens.
	ListActiveTokens(ctx context.Context) ([]models.Token, error)
	GetTokensByIDs(ctx context.Context, ids []string) ([]models.Token, error)
	UpdateTokenMarketData(ctx context.Context, item *models.Token) error

	// Price history.
	AppendPriceSample(ctx context.Context, item *models.PriceSample) error
	QueryPriceSamples(ctx context.Context, tokenID string, start, end time.Time) ([]models.PriceSample, error)
}
