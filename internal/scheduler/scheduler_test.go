package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenduel/internal/config"
	"tokenduel/internal/models"
	"tokenduel/internal/pair"
	"tokenduel/internal/prices"
	"tokenduel/internal/twap"
)

var errTestSettle = errors.New("settlement rejected")

type fixedSource struct {
	price float64
}

func (s *fixedSource) Name() string    { return "fixed" }
func (s *fixedSource) Weight() float64 { return 1 }
func (s *fixedSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, nil
}

type fixture struct {
	repo     *stubRepo
	settler  *stubSettler
	notifier *stubNotifier
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg config.SchedulerConfig, autoCfg config.AutomationConfig) *fixture {
	t.Helper()
	repo := newStubRepo()
	aggregator := &prices.Aggregator{
		Repo:    repo,
		Cache:   prices.NewMemoryCache(),
		Sources: []prices.Source{&fixedSource{price: 1.0}},
	}
	settler := &stubSettler{}
	notifier := &stubNotifier{}
	sched := New(Deps{
		Repo:     repo,
		Prices:   aggregator,
		TWAP:     &twap.Engine{Repo: repo, WindowMinutes: 10},
		Pairs:    &pair.Selector{Repo: repo, Prices: aggregator, MaxCapRatio: 1.10},
		Escrow:   settler,
		Notifier: notifier,
		Logger:   zap.NewNop(),
	}, cfg, autoCfg)
	t.Cleanup(sched.Shutdown)
	return &fixture{repo: repo, settler: settler, notifier: notifier, sched: sched}
}

func defaultConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		SetupLead:      5 * time.Minute,
		VotingDuration: 30 * time.Minute,
		ActiveDuration: time.Hour,
		StakeAmount:    10,
		FeeBps:         1500,
	}
}

func (f *fixture) addToken(id, symbol string, cap int64) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.tokens[id] = models.Token{ID: id, Symbol: symbol, Name: symbol, MarketCap: decimal.NewFromInt(cap), Active: true}
}

func (f *fixture) addSample(tokenID string, at time.Time, price int64) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.samples[tokenID] = append(f.repo.samples[tokenID], models.PriceSample{
		TokenID:   tokenID,
		Timestamp: at,
		Price:     decimal.NewFromInt(price),
	})
}

// openClosedCompetition registers a competition already in Closed so tests
// can drive resolution directly; Closed has no deadline, so no timer arms.
func (f *fixture) openClosedCompetition(id string, votingEnd, end time.Time) *models.Competition {
	comp := &models.Competition{
		ID:            id,
		TokenAID:      "tok-a",
		TokenBID:      "tok-b",
		TokenASymbol:  "AAA",
		TokenBSymbol:  "BBB",
		Phase:         models.PhaseClosed,
		StartTime:     votingEnd.Add(-30 * time.Minute),
		VotingEndTime: votingEnd,
		EndTime:       end,
		StakeAmount:   decimal.NewFromInt(10),
		FeeBps:        1500,
	}
	_ = f.repo.InsertCompetition(context.Background(), comp)
	f.sched.mu.Lock()
	f.sched.open[id] = comp
	f.sched.mu.Unlock()
	return comp
}

func TestCreateManualCompetition(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	comp, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a",
		TokenBID: "tok-b",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if comp.Phase != models.PhaseSetup {
		t.Fatalf("new competition phase = %s, want setup", comp.Phase)
	}
	if !comp.VotingEndTime.Equal(comp.StartTime.Add(30 * time.Minute)) {
		t.Fatalf("voting end %s not 30m after start %s", comp.VotingEndTime, comp.StartTime)
	}
	if !comp.EndTime.Equal(comp.VotingEndTime.Add(time.Hour)) {
		t.Fatalf("end %s not 1h after voting end %s", comp.EndTime, comp.VotingEndTime)
	}
	if comp.IsAutomated {
		t.Fatal("manual competition flagged as automated")
	}
	if f.repo.storedPhase(comp.ID) != models.PhaseSetup {
		t.Fatal("competition not persisted")
	}
	if len(f.sched.OpenCompetitions()) != 1 {
		t.Fatal("competition not registered in the open set")
	}
}

func TestCreateRejectsMismatchedPair(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 200)

	_, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a",
		TokenBID: "tok-b",
	})
	if err == nil {
		t.Fatal("pair with 2x market cap spread accepted")
	}
}

func TestCreateRejectsBadParameters(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	past := time.Now().UTC().Add(-time.Minute)
	if _, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b", StartTime: &past,
	}); err == nil {
		t.Fatal("past start time accepted")
	}

	badFee := 10001
	if _, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b", FeeBps: &badFee,
	}); err == nil {
		t.Fatal("fee above 10000 bps accepted")
	}

	badStake := 0.0
	if _, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b", StakeAmount: &badStake,
	}); err == nil {
		t.Fatal("zero stake accepted")
	}
}

func TestPauseBlocksCreationOnly(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	f.sched.SetPaused(true)
	_, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b",
	})
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}

	f.sched.SetPaused(false)
	if _, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b",
	}); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestAdvancePhaseEarlyIsNoOp(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	comp, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The deadline is minutes away; an early call must not move the phase.
	for i := 0; i < 3; i++ {
		if err := f.sched.AdvancePhase(context.Background(), comp.ID); err != nil {
			t.Fatalf("early advance: %v", err)
		}
	}
	if got := f.repo.storedPhase(comp.ID); got != models.PhaseSetup {
		t.Fatalf("phase after early advance = %s, want setup", got)
	}
}

func TestAdvancePhaseUnknownCompetition(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	if err := f.sched.AdvancePhase(context.Background(), "nope"); !errors.Is(err, ErrUnknownCompetition) {
		t.Fatalf("expected ErrUnknownCompetition, got %v", err)
	}
}

func TestResolvePicksLargerGain(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	votingEnd := time.Now().UTC().Add(-2 * time.Hour)
	end := votingEnd.Add(time.Hour)
	comp := f.openClosedCompetition("comp-1", votingEnd, end)

	// Token A gains 10%, token B gains 5%.
	f.addSample("tok-a", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-a", end.Add(-5*time.Minute), 110)
	f.addSample("tok-b", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-b", end.Add(-5*time.Minute), 105)

	if err := f.sched.AdvancePhase(context.Background(), comp.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.Phase != models.PhaseResolved {
		t.Fatalf("phase = %s, want resolved", stored.Phase)
	}
	if stored.WinnerTokenID == nil || *stored.WinnerTokenID != "tok-a" {
		t.Fatalf("winner = %v, want tok-a", stored.WinnerTokenID)
	}
	if stored.Refundable {
		t.Fatal("decisive outcome marked refundable")
	}
	if f.settler.distributeCount() != 1 {
		t.Fatalf("distribute calls = %d, want 1", f.settler.distributeCount())
	}
	if len(f.sched.OpenCompetitions()) != 0 {
		t.Fatal("resolved competition still in the open set")
	}
}

func TestResolveLoserCanStillWin(t *testing.T) {
	// Both tokens fall; the smaller loss must win.
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	votingEnd := time.Now().UTC().Add(-2 * time.Hour)
	end := votingEnd.Add(time.Hour)
	comp := f.openClosedCompetition("comp-1", votingEnd, end)

	f.addSample("tok-a", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-a", end.Add(-5*time.Minute), 90)
	f.addSample("tok-b", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-b", end.Add(-5*time.Minute), 80)

	if err := f.sched.AdvancePhase(context.Background(), comp.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.WinnerTokenID == nil || *stored.WinnerTokenID != "tok-a" {
		t.Fatalf("winner = %v, want tok-a (smaller loss)", stored.WinnerTokenID)
	}
}

func TestResolveTieRefunds(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	votingEnd := time.Now().UTC().Add(-2 * time.Hour)
	end := votingEnd.Add(time.Hour)
	comp := f.openClosedCompetition("comp-1", votingEnd, end)

	// Identical flat histories produce an exact tie.
	f.addSample("tok-a", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-a", end.Add(-5*time.Minute), 100)
	f.addSample("tok-b", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-b", end.Add(-5*time.Minute), 100)

	if err := f.sched.AdvancePhase(context.Background(), comp.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.WinnerTokenID != nil {
		t.Fatalf("tie produced winner %s", *stored.WinnerTokenID)
	}
	if !stored.Refundable {
		t.Fatal("tie not marked refundable")
	}
	if f.settler.refundCount() != 1 {
		t.Fatalf("refund calls = %d, want 1", f.settler.refundCount())
	}
}

func TestResolveDefersOnMissingHistory(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	votingEnd := time.Now().UTC().Add(-2 * time.Hour)
	comp := f.openClosedCompetition("comp-1", votingEnd, votingEnd.Add(time.Hour))

	err := f.sched.AdvancePhase(context.Background(), comp.ID)
	if !errors.Is(err, twap.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	// The competition must stay visibly Closed for the sweep to retry.
	if got := f.repo.storedPhase(comp.ID); got != models.PhaseClosed {
		t.Fatalf("phase = %s, want closed", got)
	}
	if len(f.sched.OpenCompetitions()) != 1 {
		t.Fatal("unresolvable competition dropped from the open set")
	}
}

func TestSettlementFailureRetriedBySweep(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	votingEnd := time.Now().UTC().Add(-2 * time.Hour)
	end := votingEnd.Add(time.Hour)
	comp := f.openClosedCompetition("comp-1", votingEnd, end)

	f.addSample("tok-a", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-a", end.Add(-5*time.Minute), 110)
	f.addSample("tok-b", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-b", end.Add(-5*time.Minute), 105)

	f.settler.fail = true
	if err := f.sched.AdvancePhase(context.Background(), comp.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.SettledAt != nil {
		t.Fatal("failed settlement marked settled")
	}

	f.settler.fail = false
	f.sched.Tick(context.Background())
	stored, _ = f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.SettledAt == nil {
		t.Fatal("sweep did not retry settlement")
	}
	if f.settler.distributeCount() != 1 {
		t.Fatalf("distribute calls = %d, want 1", f.settler.distributeCount())
	}
}

func TestCancelRefundsAndStopsTracking(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	comp, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID: "tok-a", TokenBID: "tok-b",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.sched.Cancel(context.Background(), comp.ID, "manipulation suspected"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if stored.Phase != models.PhaseCancelled {
		t.Fatalf("phase = %s, want cancelled", stored.Phase)
	}
	if stored.CancelReason == nil || *stored.CancelReason != "manipulation suspected" {
		t.Fatal("cancel reason not recorded")
	}
	if f.settler.refundCount() != 1 {
		t.Fatalf("refund calls = %d, want 1", f.settler.refundCount())
	}
	if len(f.sched.OpenCompetitions()) != 0 {
		t.Fatal("cancelled competition still in the open set")
	}

	// A second cancel sees the terminal phase.
	if err := f.sched.Cancel(context.Background(), comp.ID, "again"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCancelUnknownCompetition(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	if err := f.sched.Cancel(context.Background(), "nope", "reason"); !errors.Is(err, ErrUnknownCompetition) {
		t.Fatalf("expected ErrUnknownCompetition, got %v", err)
	}
}

func TestRecoverAdvancesStaleCompetitions(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	now := time.Now().UTC()

	// Stored as Setup, but by the clock it should already be Active.
	stale := &models.Competition{
		ID:            "stale",
		TokenAID:      "tok-a",
		TokenBID:      "tok-b",
		TokenASymbol:  "AAA",
		TokenBSymbol:  "BBB",
		Phase:         models.PhaseSetup,
		StartTime:     now.Add(-time.Hour),
		VotingEndTime: now.Add(-30 * time.Minute),
		EndTime:       now.Add(time.Hour),
		StakeAmount:   decimal.NewFromInt(10),
	}
	// Genuinely still waiting to start.
	fresh := &models.Competition{
		ID:            "fresh",
		TokenAID:      "tok-c",
		TokenBID:      "tok-d",
		TokenASymbol:  "CCC",
		TokenBSymbol:  "DDD",
		Phase:         models.PhaseSetup,
		StartTime:     now.Add(time.Hour),
		VotingEndTime: now.Add(90 * time.Minute),
		EndTime:       now.Add(150 * time.Minute),
		StakeAmount:   decimal.NewFromInt(10),
	}
	_ = f.repo.InsertCompetition(context.Background(), stale)
	_ = f.repo.InsertCompetition(context.Background(), fresh)

	if err := f.sched.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if got := f.repo.storedPhase("stale"); got != models.PhaseActive {
		t.Fatalf("stale competition recovered to %s, want active", got)
	}
	if got := f.repo.storedPhase("fresh"); got != models.PhaseSetup {
		t.Fatalf("fresh competition recovered to %s, want setup", got)
	}
	if len(f.sched.OpenCompetitions()) != 2 {
		t.Fatalf("open set has %d competitions, want 2", len(f.sched.OpenCompetitions()))
	}
}

func TestRecoverResolvesPastEnd(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{})
	now := time.Now().UTC()
	votingEnd := now.Add(-2 * time.Hour)
	end := votingEnd.Add(time.Hour)

	comp := &models.Competition{
		ID:            "overdue",
		TokenAID:      "tok-a",
		TokenBID:      "tok-b",
		TokenASymbol:  "AAA",
		TokenBSymbol:  "BBB",
		Phase:         models.PhaseVoting,
		StartTime:     votingEnd.Add(-30 * time.Minute),
		VotingEndTime: votingEnd,
		EndTime:       end,
		StakeAmount:   decimal.NewFromInt(10),
	}
	_ = f.repo.InsertCompetition(context.Background(), comp)
	f.addSample("tok-a", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-a", end.Add(-5*time.Minute), 120)
	f.addSample("tok-b", votingEnd.Add(-5*time.Minute), 100)
	f.addSample("tok-b", end.Add(-5*time.Minute), 105)

	if err := f.sched.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	stored, _ := f.repo.GetCompetitionByID(context.Background(), "overdue")
	if stored.Phase != models.PhaseResolved {
		t.Fatalf("phase = %s, want resolved", stored.Phase)
	}
	if stored.WinnerTokenID == nil || *stored.WinnerTokenID != "tok-a" {
		t.Fatalf("winner = %v, want tok-a", stored.WinnerTokenID)
	}
	if len(f.sched.OpenCompetitions()) != 0 {
		t.Fatal("resolved competition kept in the open set after recovery")
	}
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	// An empty token universe makes every automated attempt fail.
	f := newFixture(t, defaultConfig(), config.AutomationConfig{
		Enabled:          true,
		MaxConcurrent:    3,
		FailureThreshold: 5,
	})

	for i := 0; i < 4; i++ {
		f.sched.Tick(context.Background())
	}
	status := f.sched.AutomationStatus()
	if !status.Enabled {
		t.Fatalf("breaker tripped after %d failures, threshold is 5", status.ConsecutiveFailures)
	}
	if status.ConsecutiveFailures != 4 {
		t.Fatalf("failures = %d, want 4", status.ConsecutiveFailures)
	}

	f.sched.Tick(context.Background())
	status = f.sched.AutomationStatus()
	if status.Enabled {
		t.Fatal("breaker did not trip at the fifth consecutive failure")
	}
	if status.LastError == "" {
		t.Fatal("last error not recorded")
	}
	if sent := f.notifier.sent(); len(sent) != 1 {
		t.Fatalf("operator notifications = %d, want 1", len(sent))
	}

	// Disabled automation no longer attempts creation or notification.
	f.sched.Tick(context.Background())
	if sent := f.notifier.sent(); len(sent) != 1 {
		t.Fatal("tripped breaker kept notifying")
	}
}

func TestEnableAutomationResetsBreaker(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{
		Enabled:          true,
		FailureThreshold: 5,
	})
	for i := 0; i < 5; i++ {
		f.sched.Tick(context.Background())
	}
	if f.sched.AutomationStatus().Enabled {
		t.Fatal("breaker should be tripped")
	}

	status := f.sched.EnableAutomation(AutomationParams{})
	if !status.Enabled {
		t.Fatal("enable did not re-enable automation")
	}
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("failures = %d after enable, want 0", status.ConsecutiveFailures)
	}
	if status.LastError != "" {
		t.Fatal("last error survived explicit enable")
	}
}

func TestAutomationRespectsConcurrencyCap(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{
		Enabled:          true,
		MaxConcurrent:    1,
		FailureThreshold: 5,
	})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	f.sched.Tick(context.Background())
	if n := len(f.sched.OpenCompetitions()); n != 1 {
		t.Fatalf("open competitions = %d, want 1", n)
	}

	// At the cap: the next tick creates nothing and counts no failure.
	f.sched.Tick(context.Background())
	if n := len(f.sched.OpenCompetitions()); n != 1 {
		t.Fatalf("open competitions = %d after capped tick, want 1", n)
	}
	if got := f.sched.AutomationStatus().ConsecutiveFailures; got != 0 {
		t.Fatalf("capped tick counted %d failures", got)
	}
}

func TestAutomationSuccessClearsFailures(t *testing.T) {
	f := newFixture(t, defaultConfig(), config.AutomationConfig{
		Enabled:          true,
		MaxConcurrent:    3,
		FailureThreshold: 5,
	})

	// Three failures against an empty universe, then tokens appear.
	for i := 0; i < 3; i++ {
		f.sched.Tick(context.Background())
	}
	if got := f.sched.AutomationStatus().ConsecutiveFailures; got != 3 {
		t.Fatalf("failures = %d, want 3", got)
	}

	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)
	f.sched.Tick(context.Background())

	status := f.sched.AutomationStatus()
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("failures = %d after success, want 0", status.ConsecutiveFailures)
	}
	if status.LastCreatedAt == nil {
		t.Fatal("last created timestamp not recorded")
	}
}

func TestTimerDrivenLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("uses real timers")
	}
	f := newFixture(t, config.SchedulerConfig{
		SetupLead:      5 * time.Minute,
		VotingDuration: 30 * time.Minute,
		ActiveDuration: time.Hour,
		StakeAmount:    10,
	}, config.AutomationConfig{})
	f.addToken("tok-a", "AAA", 100)
	f.addToken("tok-b", "BBB", 105)

	start := time.Now().UTC().Add(50 * time.Millisecond)
	comp, err := f.sched.CreateManualCompetition(context.Background(), CreateRequest{
		TokenAID:       "tok-a",
		TokenBID:       "tok-b",
		StartTime:      &start,
		VotingDuration: 50 * time.Millisecond,
		ActiveDuration: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// One sample per token inside the resolution windows; equal prices
	// force the tie path, which still exercises the full timer chain.
	f.addSample("tok-a", start, 100)
	f.addSample("tok-b", start, 100)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if f.repo.storedPhase(comp.ID) == models.PhaseResolved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("competition stuck in %s", f.repo.storedPhase(comp.ID))
		}
		time.Sleep(10 * time.Millisecond)
	}
	stored, _ := f.repo.GetCompetitionByID(context.Background(), comp.ID)
	if !stored.Refundable {
		t.Fatal("flat identical histories must tie and refund")
	}
}
