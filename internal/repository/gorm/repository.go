package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"tokenduel/internal/models"
	"tokenduel/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var openPhases = []models.Phase{
	models.PhaseSetup,
	models.PhaseVoting,
	models.PhaseActive,
	models.PhaseClosed,
}

// --- Competitions -----------------------------------------------------------

func (s *Store) LoadOpenCompetitions(ctx context.Context) ([]models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Competition
	err := s.db.WithContext(ctx).
		Where("phase IN ?", openPhases).
		Order("start_time asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertCompetition(ctx context.Context, item *models.Competition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetCompetitionByID(ctx context.Context, id string) (*models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Competition
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) applyCompetitionFilters(ctx context.Context, params repository.ListCompetitionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Competition{})
	if params.Phase != nil {
		query = query.Where("phase = ?", *params.Phase)
	}
	if params.IsAutomated != nil {
		query = query.Where("is_automated = ?", *params.IsAutomated)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListCompetitions(ctx context.Context, params repository.ListCompetitionsParams) ([]models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyCompetitionFilters(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Competition
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCompetitions(ctx context.Context, params repository.ListCompetitionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.applyCompetitionFilters(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountOpenCompetitions(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("phase IN ?", openPhases).
		Count(&total).Error
	return total, err
}

func (s *Store) UpdateCompetitionPhase(ctx context.Context, id string, phase models.Phase) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Update("phase", phase).Error
}

func (s *Store) SaveCompetitionOutcome(ctx context.Context, id string, outcome repository.CompetitionOutcome) error {
	if s == nil || s.db == nil {
		return nil
	}
	fields := map[string]any{
		"phase":              models.PhaseResolved,
		"token_a_start_twap": outcome.TokenAStartTWAP,
		"token_a_end_twap":   outcome.TokenAEndTWAP,
		"token_b_start_twap": outcome.TokenBStartTWAP,
		"token_b_end_twap":   outcome.TokenBEndTWAP,
		"token_a_change_pct": outcome.TokenAChangePct,
		"token_b_change_pct": outcome.TokenBChangePct,
		"winner_token_id":    outcome.WinnerTokenID,
		"refundable":         outcome.Refundable,
		"resolved_at":        outcome.ResolvedAt,
	}
	return s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s *Store) MarkCompetitionCancelled(ctx context.Context, id string, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	reason = strings.TrimSpace(reason)
	fields := map[string]any{
		"phase":         models.PhaseCancelled,
		"refundable":    true,
		"cancel_reason": reason,
		"resolved_at":   at,
	}
	return s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s *Store) MarkCompetitionSettled(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Competition{}).
		Where("id = ?", id).
		Update("settled_at", at).Error
}

func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]models.Competition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Competition
	err := s.db.WithContext(ctx).
		Where("phase IN ?", []models.Phase{models.PhaseResolved, models.PhaseCancelled}).
		Where("settled_at IS NULL").
		Order("resolved_at asc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRecentPairUsage(ctx context.Context, since time.Time) ([]repository.PairUsage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []models.Competition
	err := s.db.WithContext(ctx).
		Select("token_a_id", "token_b_id", "created_at").
		Where("created_at >= ?", since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	usage := make([]repository.PairUsage, 0, len(rows))
	for _, row := range rows {
		usage = append(usage, repository.PairUsage{
			TokenAID:  row.TokenAID,
			TokenBID:  row.TokenBID,
			CreatedAt: row.CreatedAt,
		})
	}
	return usage, nil
}

// --- Tokens -----------------------------------------------------------------

func (s *Store) ListActiveTokens(ctx context.Context) ([]models.Token, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Token
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("symbol asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetTokensByIDs(ctx context.Context, ids []string) ([]models.Token, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Token
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateTokenMarketData(ctx context.Context, item *models.Token) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	fields := map[string]any{
		"market_cap":    item.MarketCap,
		"last_price":    item.LastPrice,
		"last_price_at": item.LastPriceAt,
	}
	return s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("id = ?", item.ID).
		Updates(fields).Error
}

// --- Price history ----------------------------------------------------------

func (s *Store) AppendPriceSample(ctx context.Context, item *models.PriceSample) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) QueryPriceSamples(ctx context.Context, tokenID string, start, end time.Time) ([]models.PriceSample, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PriceSample
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Where("timestamp >= ?", start).
		Where("timestamp <= ?", end).
		Order("timestamp asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	col := strings.TrimSpace(orderBy)
	switch col {
	case "created_at", "start_time", "end_time", "resolved_at":
	default:
		col = fallback
	}
	dir := "desc"
	if asc != nil && *asc {
		dir = "asc"
	}
	return query.Order(col + " " + dir)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Compile-time interface check.
var _ repository.Repository = (*Store)(nil)
