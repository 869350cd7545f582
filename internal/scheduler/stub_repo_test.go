package scheduler

import (
	"context"
	"sync"
	"time"

	"tokenduel/internal/models"
	"tokenduel/internal/repository"
)

// stubRepo is a test-only in-memory implementation of the repository
// surface the scheduler exercises.
type stubRepo struct {
	repository.Repository

	mu           sync.Mutex
	competitions map[string]*models.Competition
	tokens       map[string]models.Token
	samples      map[string][]models.PriceSample
	usage        []repository.PairUsage
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		competitions: map[string]*models.Competition{},
		tokens:       map[string]models.Token{},
		samples:      map[string][]models.PriceSample{},
	}
}

func (s *stubRepo) LoadOpenCompetitions(ctx context.Context) ([]models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Competition
	for _, comp := range s.competitions {
		if !comp.Phase.Terminal() {
			out = append(out, *comp)
		}
	}
	return out, nil
}

func (s *stubRepo) InsertCompetition(ctx context.Context, item *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.competitions[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetCompetitionByID(ctx context.Context, id string) (*models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comp, ok := s.competitions[id]
	if !ok {
		return nil, nil
	}
	cp := *comp
	return &cp, nil
}

func (s *stubRepo) CountOpenCompetitions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, comp := range s.competitions {
		if !comp.Phase.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) UpdateCompetitionPhase(ctx context.Context, id string, phase models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp, ok := s.competitions[id]; ok {
		comp.Phase = phase
	}
	return nil
}

func (s *stubRepo) SaveCompetitionOutcome(ctx context.Context, id string, outcome repository.CompetitionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	comp, ok := s.competitions[id]
	if !ok {
		return nil
	}
	comp.Phase = models.PhaseResolved
	comp.TokenAStartTWAP = &outcome.TokenAStartTWAP
	comp.TokenAEndTWAP = &outcome.TokenAEndTWAP
	comp.TokenBStartTWAP = &outcome.TokenBStartTWAP
	comp.TokenBEndTWAP = &outcome.TokenBEndTWAP
	comp.TokenAChangePct = &outcome.TokenAChangePct
	comp.TokenBChangePct = &outcome.TokenBChangePct
	comp.WinnerTokenID = outcome.WinnerTokenID
	comp.Refundable = outcome.Refundable
	at := outcome.ResolvedAt
	comp.ResolvedAt = &at
	return nil
}

func (s *stubRepo) MarkCompetitionCancelled(ctx context.Context, id string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp, ok := s.competitions[id]; ok {
		comp.Phase = models.PhaseCancelled
		comp.CancelReason = &reason
	}
	return nil
}

func (s *stubRepo) MarkCompetitionSettled(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp, ok := s.competitions[id]; ok {
		comp.SettledAt = &at
	}
	return nil
}

func (s *stubRepo) ListUnsettled(ctx context.Context, limit int) ([]models.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Competition
	for _, comp := range s.competitions {
		if comp.Phase.Terminal() && comp.SettledAt == nil {
			out = append(out, *comp)
		}
	}
	return out, nil
}

func (s *stubRepo) ListRecentPairUsage(ctx context.Context, since time.Time) ([]repository.PairUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.PairUsage
	for _, u := range s.usage {
		if u.CreatedAt.After(since) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubRepo) ListActiveTokens(ctx context.Context) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Token
	for _, t := range s.tokens {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubRepo) GetTokensByIDs(ctx context.Context, ids []string) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Token
	for _, id := range ids {
		if t, ok := s.tokens[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubRepo) QueryPriceSamples(ctx context.Context, tokenID string, start, end time.Time) ([]models.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceSample
	for _, sample := range s.samples[tokenID] {
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *stubRepo) AppendPriceSample(ctx context.Context, item *models.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[item.TokenID] = append(s.samples[item.TokenID], *item)
	return nil
}

func (s *stubRepo) storedPhase(id string) models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp, ok := s.competitions[id]; ok {
		return comp.Phase
	}
	return ""
}

// stubSettler records settlement calls.
type stubSettler struct {
	mu          sync.Mutex
	distributed []string
	refunded    []string
	fail        bool
}

func (s *stubSettler) Distribute(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errTestSettle
	}
	s.distributed = append(s.distributed, id)
	return nil
}

func (s *stubSettler) Refund(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errTestSettle
	}
	s.refunded = append(s.refunded, id)
	return nil
}

func (s *stubSettler) refundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunded)
}

func (s *stubSettler) distributeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.distributed)
}

// stubNotifier records operator alerts.
type stubNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *stubNotifier) Send(ctx context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *stubNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}
