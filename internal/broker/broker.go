package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/backend"
	"github.com/MikeSquared-Agency/Cover/internal/config"
	"github.com/MikeSquared-Agency/Cover/internal/engine"
	"github.com/MikeSquared-Agency/Cover/internal/hermes"
	"github.com/MikeSquared-Agency/Cover/internal/metrics"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

// Broker drives solve cycles: fetch a snapshot, run the engine, persist the
// outcome, push suggestions to the backend and publish events.
type Broker struct {
	store   store.Store
	hermes  hermes.Client
	backend backend.Client
	engine  *engine.Engine
	metrics *metrics.Metrics
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time

	// cycleMu serialises ticker and manual cycles.
	cycleMu         sync.Mutex
	lastFingerprint string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, h hermes.Client, bc backend.Client, e *engine.Engine, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Broker {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Broker{
		store:   s,
		hermes:  h,
		backend: bc,
		engine:  e,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Report summarises one RunOnce call.
type Report struct {
	CycleID     string            `json:"cycle_id,omitempty"`
	Date        time.Time         `json:"date"`
	Status      store.CycleStatus `json:"status,omitempty"`
	Skipped     bool              `json:"skipped"`
	Plans       int               `json:"plans"`
	Groups      int               `json:"groups"`
	Unassigned  int               `json:"unassigned"`
	Fingerprint string            `json:"fingerprint"`
}

func (b *Broker) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.cycleLoop(ctx)
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Broker) cycleLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.RunOnce(ctx, b.today(), false); err != nil {
				b.logger.Warn("cycle failed", "error", err)
			}
		}
	}
}

// SetupSubscriptions lets other services trigger a cycle over NATS.
func (b *Broker) SetupSubscriptions(ctx context.Context) {
	if b.hermes == nil {
		return
	}
	err := b.hermes.OnCycleRequest(func(req hermes.CycleRequestEvent) {
		date := b.today()
		if req.Date != "" {
			d, err := time.Parse(time.DateOnly, req.Date)
			if err != nil {
				b.logger.Warn("invalid cycle request date", "date", req.Date, "error", err)
				return
			}
			date = d
		}
		b.logger.Info("cycle requested", "source", req.Source, "date", date.Format(time.DateOnly))
		if _, err := b.RunOnce(ctx, date, true); err != nil {
			b.logger.Warn("requested cycle failed", "error", err)
		}
	})
	if err != nil {
		b.logger.Warn("failed to subscribe to cycle requests", "error", err)
	}
}

func (b *Broker) today() time.Time {
	y, m, d := b.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RunOnce runs one cycle for date. Unless force is set, a snapshot whose
// fingerprint matches the previous successful cycle is skipped.
func (b *Broker) RunOnce(ctx context.Context, date time.Time, force bool) (*Report, error) {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	snap, err := b.backend.FetchSnapshot(ctx, date)
	if err != nil {
		b.fail(ctx, "", date, "", fmt.Errorf("fetch snapshot: %w", err))
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	fp, err := Fingerprint(snap)
	if err != nil {
		return nil, err
	}
	report := &Report{Date: snap.Date, Fingerprint: fp}
	if b.cfg.Cycle.SkipUnchanged && !force && fp == b.lastFingerprint {
		b.metrics.ObserveCycle(metrics.OutcomeSkipped, 0)
		b.logger.Debug("snapshot unchanged, skipping cycle", "fingerprint", fp)
		report.Skipped = true
		return report, nil
	}

	out, err := b.engine.Run(ctx, snap)
	if err != nil {
		b.fail(ctx, "", snap.Date, fp, err)
		return nil, err
	}

	report.CycleID = out.CycleID
	report.Plans = len(out.Plans)
	report.Groups = len(out.Groups)
	report.Status = store.CycleCompleted
	if len(out.Groups) == 0 {
		report.Status = store.CycleEmpty
	}
	if len(out.Plans) > 0 {
		report.Unassigned = len(out.Plans[0].Unassigned)
	}

	if err := b.persist(ctx, snap, out, report); err != nil {
		b.fail(ctx, out.CycleID, snap.Date, fp, err)
		return nil, err
	}
	b.push(ctx, snap, out)
	b.publish(ctx, out, report)
	b.observe(out, report)

	b.lastFingerprint = fp
	b.logger.Info("cycle completed",
		"cycle_id", out.CycleID,
		"status", report.Status,
		"plans", report.Plans,
		"groups", report.Groups,
		"unassigned", report.Unassigned,
	)
	return report, nil
}

func (b *Broker) persist(ctx context.Context, snap *roster.Snapshot, out *engine.Outcome, report *Report) error {
	if b.store == nil {
		return nil
	}
	cycleID, err := uuid.Parse(out.CycleID)
	if err != nil {
		return fmt.Errorf("cycle id: %w", err)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	if err := b.store.SaveCycle(ctx, &store.Cycle{
		ID:            cycleID,
		Date:          snap.Date,
		Fingerprint:   report.Fingerprint,
		Status:        report.Status,
		Plans:         report.Plans,
		Unassigned:    report.Unassigned,
		EligiblePairs: out.EligiblePairs,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("save cycle: %w", err)
	}

	recs, err := store.RecommendationsFromPlans(cycleID, out.Plans)
	if err != nil {
		return err
	}
	if err := b.store.SaveRecommendations(ctx, recs); err != nil {
		return fmt.Errorf("save recommendations: %w", err)
	}
	if err := b.store.SaveComments(ctx, cycleID, out.Comments); err != nil {
		return fmt.Errorf("save comments: %w", err)
	}
	if len(out.Plans) > 0 {
		rows := store.HistoryFromPlan(snap.Date, out.Plans[0], out.Features())
		if err := b.store.RecordAssignments(ctx, rows); err != nil {
			b.logger.Warn("failed to record assignment history", "cycle_id", out.CycleID, "error", err)
		}
	}
	return nil
}

// push sends each suggestion group to its client's incident. Clients with an
// incident but no suggestion get an empty push. Push errors are logged.
func (b *Broker) push(ctx context.Context, snap *roster.Snapshot, out *engine.Outcome) {
	if b.backend == nil || len(snap.Incidents) == 0 {
		return
	}
	suggested := make(map[string]bool, len(out.Groups))
	for _, g := range out.Groups {
		clientID := g[0].ClientID
		suggested[clientID] = true
		incident, ok := snap.Incidents[clientID]
		if !ok {
			continue
		}
		suggestions := make([]backend.Suggestion, 0, len(g))
		for _, s := range g {
			ex := out.Explain(s)
			suggestions = append(suggestions, backend.Suggestion{
				EmployeeID: s.EmployeeID,
				Short:      ex.Short,
				Long:       strings.Join(ex.Lines, "\n"),
			})
		}
		err := b.backend.PushRecommendations(ctx, incident, suggestions)
		b.metrics.ObservePush(err)
		if err != nil {
			b.logger.Warn("failed to push recommendations", "client_id", clientID, "incident", incident.ID, "error", err)
		}
	}

	clients := make([]string, 0, len(snap.Incidents))
	for clientID := range snap.Incidents {
		if !suggested[clientID] {
			clients = append(clients, clientID)
		}
	}
	sort.Strings(clients)
	for _, clientID := range clients {
		err := b.backend.PushEmpty(ctx, snap.Incidents[clientID])
		b.metrics.ObservePush(err)
		if err != nil {
			b.logger.Warn("failed to push empty recommendation", "client_id", clientID, "error", err)
		}
	}
}

func (b *Broker) publish(ctx context.Context, out *engine.Outcome, report *Report) {
	if b.hermes == nil {
		return
	}
	if report.Status == store.CycleEmpty {
		b.published("cycle empty", b.hermes.CycleEmpty(ctx, hermes.CycleEmptyEvent{
			CycleID: out.CycleID,
			Date:    out.Date,
			Reason:  emptyReason(out),
		}))
	} else {
		b.published("cycle completed", b.hermes.CycleCompleted(ctx, hermes.CycleCompletedEvent{
			CycleID:       out.CycleID,
			Date:          out.Date,
			Plans:         report.Plans,
			Groups:        report.Groups,
			Unassigned:    report.Unassigned,
			EligiblePairs: out.EligiblePairs,
			Rejected:      len(out.Rejected),
			Elapsed:       out.Elapsed,
		}))
	}

	for rank, p := range out.Plans {
		assigned := make([]hermes.SuggestionPayload, 0, len(p.Assigned))
		for _, a := range p.Assigned {
			sp := hermes.SuggestionPayload{EmployeeID: a.EmployeeID, ClientID: a.ClientID, Rank: rank}
			if v, ok := out.Verdicts[engine.PairKey(a.EmployeeID, a.ClientID)]; ok {
				sp.Verdict = string(v.Verdict)
			}
			assigned = append(assigned, sp)
		}
		b.published("recommendation created", b.hermes.RecommendationCreated(ctx, hermes.RecommendationCreatedEvent{
			RecommendationID: p.RecommendationID,
			CycleID:          out.CycleID,
			Rank:             rank,
			Objective:        p.Objective,
			Assigned:         assigned,
			Unassigned:       p.Unassigned,
		}))
	}

	for _, c := range out.Comments {
		b.published("comment", b.hermes.Comment(ctx, hermes.CommentEvent{
			CycleID: out.CycleID,
			Subject: c.Subject.String(),
			Message: c.Message,
			At:      c.At,
		}))
	}
}

func (b *Broker) published(event string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn("failed to publish event", "event", event, "error", err)
	}
}

func emptyReason(out *engine.Outcome) string {
	switch {
	case len(out.Plans) == 0:
		return "no feasible plan"
	case out.EligiblePairs == 0:
		return "no eligible pairs"
	default:
		return "no assignments"
	}
}

func (b *Broker) observe(out *engine.Outcome, report *Report) {
	outcome := metrics.OutcomeCompleted
	if report.Status == store.CycleEmpty {
		outcome = metrics.OutcomeEmpty
	}
	b.metrics.ObserveCycle(outcome, out.Elapsed)
	b.metrics.EligiblePairs.Set(float64(out.EligiblePairs))
	b.metrics.Unassigned.Set(float64(report.Unassigned))
	for _, v := range out.Verdicts {
		if v.Verdict == anomaly.Abnormal {
			b.metrics.Abnormal.Inc()
		}
	}
	for _, r := range out.Rejected {
		b.metrics.Rejected.WithLabelValues(r.Kind).Inc()
	}
}

func (b *Broker) fail(ctx context.Context, cycleID string, date time.Time, fp string, cause error) {
	if cycleID == "" {
		cycleID = uuid.NewString()
	}
	b.metrics.ObserveCycle(metrics.OutcomeFailed, 0)
	b.logger.Error("cycle failed", "cycle_id", cycleID, "error", cause)

	if b.store != nil {
		c := &store.Cycle{Date: date, Fingerprint: fp, Status: store.CycleFailed, Error: cause.Error()}
		if id, err := uuid.Parse(cycleID); err == nil {
			c.ID = id
		}
		if err := b.store.SaveCycle(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("failed to record failed cycle", "error", err)
		}
	}
	if b.hermes != nil {
		b.published("cycle failed", b.hermes.CycleFailed(ctx, hermes.CycleFailedEvent{CycleID: cycleID, Error: cause.Error()}))
	}
}

// Fingerprint hashes the snapshot content. Two snapshots with the same
// fingerprint produce the same cycle.
func Fingerprint(snap *roster.Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("fingerprint snapshot: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
