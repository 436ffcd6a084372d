// Package correlation decides what an incoming alert is: a brand-new
// problem, a repeat of a known one, or a member of an existing incident
// group. Ingestion is single-flight; the whole decision for one alert runs
// under a guard so concurrent receives cannot race the duplicate lists.
package correlation

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/incidents"
	"github.com/alerthub/alerthub/internal/issues"
	"github.com/alerthub/alerthub/internal/patterns"
)

// Outcome classifies what happened to a received alert.
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeCorrelated     Outcome = "correlated"
	OutcomePatternMatched Outcome = "pattern-matched"
)

// Result is the decision made for one received alert.
type Result struct {
	Alert   *database.Alert
	Outcome Outcome

	// Parent is set when the alert joined an existing incident.
	Parent *database.Alert
	// Pattern is set when the alert was grouped by a pattern rule.
	Pattern *database.Pattern
}

// Defaults for the ingest guard and pattern grouping window.
const (
	DefaultAcquireTimeout = 5 * time.Second
	DefaultGroupingWindow = time.Hour
)

// RateLimiter throttles ingest per origin. Allow returns false when the
// origin exceeded its budget.
type RateLimiter interface {
	Allow(origin string) bool
}

// Engine is the correlation pipeline. After dispatches side effects
// (ticket creation, notifications) once the ingest guard is released; it
// may be nil.
type Engine struct {
	store      *database.AlertStore
	audit      *database.PatternStore
	cache      *patterns.Cache
	model      *alarm.Model
	aggregator *incidents.Aggregator
	issues     *issues.Engine

	sem            *semaphore.Weighted
	acquireTimeout time.Duration
	groupingWindow time.Duration

	allowedEnvironments []string
	originBlacklist     []string
	origin              string
	limiter             RateLimiter

	After func(*Result)
	// OnClose runs after an operator action closes an alert; it may be
	// nil.
	OnClose func(*database.Alert)
}

// Config tunes the correlation engine.
type Config struct {
	AcquireTimeout      time.Duration
	GroupingWindow      time.Duration
	AllowedEnvironments []string
	OriginBlacklist     []string
	// Origin identifies this server. Incoming alerts carrying it are
	// rejected as forwarding loops.
	Origin      string
	RateLimiter RateLimiter
}

func NewEngine(store *database.AlertStore, audit *database.PatternStore, cache *patterns.Cache, model *alarm.Model, aggregator *incidents.Aggregator, issueEngine *issues.Engine, cfg Config) *Engine {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.GroupingWindow <= 0 {
		cfg.GroupingWindow = DefaultGroupingWindow
	}
	return &Engine{
		store:               store,
		audit:               audit,
		cache:               cache,
		model:               model,
		aggregator:          aggregator,
		issues:              issueEngine,
		sem:                 semaphore.NewWeighted(1),
		acquireTimeout:      cfg.AcquireTimeout,
		groupingWindow:      cfg.GroupingWindow,
		allowedEnvironments: cfg.AllowedEnvironments,
		originBlacklist:     cfg.OriginBlacklist,
		origin:              cfg.Origin,
		limiter:             cfg.RateLimiter,
	}
}

// Receive runs the full ingest pipeline for one alert: policy checks,
// exact-match correlate or dedup, pattern grouping, issue grouping.
func (e *Engine) Receive(ctx context.Context, incoming *database.Alert) (*Result, error) {
	if err := e.validate(incoming); err != nil {
		return nil, err
	}
	if err := e.checkPolicy(incoming); err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()
	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, ErrServiceBusy
	}

	result, err := e.process(incoming)
	e.sem.Release(1)
	if err != nil {
		return nil, err
	}

	if e.After != nil {
		e.After(result)
	}
	return result, nil
}

func (e *Engine) validate(incoming *database.Alert) error {
	if strings.TrimSpace(incoming.Resource) == "" {
		return &ValidationError{Field: "resource", Reason: "must not be empty"}
	}
	if strings.TrimSpace(incoming.Event) == "" {
		return &ValidationError{Field: "event", Reason: "must not be empty"}
	}
	if incoming.Timeout < 0 {
		return &ValidationError{Field: "timeout", Reason: "must not be negative"}
	}
	if incoming.Severity != "" && !alarm.IsValid(incoming.Severity) {
		return &ValidationError{Field: "severity", Reason: "unknown severity"}
	}
	for _, tag := range incoming.Tags {
		if key, _, found := strings.Cut(tag, ":"); found {
			if strings.ContainsAny(key, ".$") {
				return &ValidationError{Field: "tags", Reason: "tag keys must not contain '.' or '$'"}
			}
		}
	}
	for key := range incoming.Attributes.Extra {
		if strings.ContainsAny(key, ".$") {
			return &ValidationError{Field: "attributes", Reason: "attribute keys must not contain '.' or '$'"}
		}
	}
	return nil
}

func (e *Engine) checkPolicy(incoming *database.Alert) error {
	if incoming.EventType == "Heartbeat" {
		return ErrHeartbeat
	}
	if e.origin != "" && incoming.Origin == e.origin {
		return ErrForwardingLoop
	}
	for _, origin := range e.originBlacklist {
		if incoming.Origin == origin {
			return &RejectError{Reason: "origin blacklisted: " + origin}
		}
	}
	if len(e.allowedEnvironments) > 0 {
		allowed := false
		for _, env := range e.allowedEnvironments {
			if incoming.Environment == env {
				allowed = true
				break
			}
		}
		if !allowed {
			return &RejectError{Reason: "environment not allowed: " + incoming.Environment}
		}
	}
	if e.limiter != nil && !e.limiter.Allow(incoming.Origin) {
		return ErrRateLimit
	}
	blackout, err := e.store.ActiveBlackout(incoming, time.Now())
	if err != nil {
		return err
	}
	if blackout != nil {
		return &BlackoutError{BlackoutID: blackout.ID}
	}
	return nil
}

// process holds the ingest guard.
func (e *Engine) process(incoming *database.Alert) (*Result, error) {
	now := time.Now()
	if incoming.ID == "" {
		incoming.ID = uuid.New().String()
	}
	if incoming.Severity == "" {
		incoming.Severity = alarm.DefaultNormalSeverity
	}
	if incoming.CreateTime.IsZero() {
		incoming.CreateTime = now
	}
	incoming.ReceiveTime = now
	incoming.LastReceiveTime = now

	existing, kind, err := e.store.FindRelated(incoming)
	if err != nil {
		return nil, err
	}
	switch kind {
	case database.MatchDuplicate:
		if err := e.aggregator.Deduplicate(existing.ID, now); err != nil {
			return nil, err
		}
		existing.LastReceiveTime = now
		return &Result{Alert: existing, Outcome: OutcomeDuplicate}, nil
	case database.MatchCorrelated:
		updated, err := e.correlate(existing, incoming, now)
		if err != nil {
			return nil, err
		}
		return &Result{Alert: updated, Outcome: OutcomeCorrelated}, nil
	}

	if err := e.createNew(incoming, now); err != nil {
		return nil, err
	}

	parent, pattern, err := e.matchPattern(incoming)
	if err != nil {
		log.Printf("Pattern matching failed for alert %s: %v", incoming.ID, err)
	}
	if parent != nil {
		return &Result{
			Alert:   incoming,
			Outcome: OutcomePatternMatched,
			Parent:  parent,
			Pattern: pattern,
		}, nil
	}

	// No group took the alert: it becomes an incident parent of its own
	// and joins an issue.
	incoming.Attributes.Incident = true
	if err := e.store.Save(incoming); err != nil {
		return nil, err
	}
	if e.issues != nil {
		if _, err := e.issues.Assign(incoming); err != nil {
			log.Printf("Issue grouping failed for alert %s: %v", incoming.ID, err)
		}
	}
	return &Result{Alert: incoming, Outcome: OutcomeCreated}, nil
}

// correlate folds the incoming alert into an existing row for the same
// logical problem. The row keeps its identity; severity and status advance
// through the state machine and one history entry is recorded.
func (e *Engine) correlate(existing, incoming *database.Alert, now time.Time) (*database.Alert, error) {
	trend := alarm.TrendOf(existing.Severity, incoming.Severity)

	in := alarm.Input{
		AlertID:          existing.ID,
		Severity:         incoming.Severity,
		PreviousSeverity: existing.Severity,
		Status:           incoming.Status,
		TicketKey:        existing.Attributes.TicketKey,
		TicketStatus:     existing.Attributes.TicketStatus,
	}
	severity, status, err := e.model.Transition(in, existing.Status, incidents.PreviousStatus(existing), "")
	if err != nil {
		return nil, err
	}

	existing.PreviousSeverity = existing.Severity
	existing.Severity = severity
	existing.Status = status
	existing.TrendIndication = trend
	existing.Event = incoming.Event
	existing.Value = incoming.Value
	existing.Text = incoming.Text
	existing.RawData = incoming.RawData
	existing.Repeat = false
	existing.DuplicateCount = 0
	existing.LastReceiveID = incoming.ID
	existing.LastReceiveTime = now
	existing.UpdateTime = now
	existing.Attributes.TicketStatus = in.TicketStatus
	existing.History = existing.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		Event:      incoming.Event,
		Severity:   severity,
		Status:     status,
		Value:      incoming.Value,
		Text:       incoming.Text,
		ChangeType: database.ChangeSeverity,
		UpdateTime: now,
	}, e.aggregator.HistoryLimit())

	if err := e.store.Save(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (e *Engine) createNew(incoming *database.Alert, now time.Time) error {
	if incoming.Status == "" {
		incoming.Status = alarm.DefaultStatus
	}
	incoming.PreviousSeverity = alarm.DefaultPreviousSeverity
	incoming.TrendIndication = alarm.TrendOf(alarm.DefaultPreviousSeverity, incoming.Severity)
	incoming.LastReceiveID = incoming.ID
	incoming.UpdateTime = now
	incoming.History = database.History{{
		ID:         uuid.New().String(),
		Event:      incoming.Event,
		Severity:   incoming.Severity,
		Status:     incoming.Status,
		Value:      incoming.Value,
		Text:       incoming.Text,
		ChangeType: database.ChangeNew,
		UpdateTime: now,
	}}
	return e.store.Create(incoming)
}

// matchPattern scans the active patterns in ascending priority order
// against the existing incident parents. The first rule that selects a
// parent, and survives the grouping guards, wins.
func (e *Engine) matchPattern(incoming *database.Alert) (*database.Alert, *database.Pattern, error) {
	active := e.cache.ActivePatterns()
	if len(active) == 0 {
		return nil, nil, nil
	}
	parents, err := e.store.FindIncidentParents()
	if err != nil {
		return nil, nil, err
	}
	if len(parents) == 0 {
		return nil, nil, nil
	}

	incomingBinding := patterns.BindAlert(incoming)

	for i := range active {
		p := &active[i]
		rule, err := patterns.Parse(p.Rule)
		if err != nil {
			log.Printf("Skipping pattern %q with invalid rule: %v", p.Name, err)
			continue
		}

		matched := e.selectParents(rule, incomingBinding, parents)
		if len(matched) == 0 {
			continue
		}

		for _, parent := range matched {
			if !e.groupingAllowed(parent, p, incoming) {
				continue
			}
			if err := e.applyPatternMatch(incoming, parent, p); err != nil {
				return nil, nil, err
			}
			return parent, p, nil
		}
	}
	return nil, nil, nil
}

// selectParents evaluates the rule against every incident parent and
// returns the matches. Rules with a similarity directive re-rank the
// matches by TF-IDF cosine score and drop those below the threshold.
func (e *Engine) selectParents(rule *patterns.Rule, incoming patterns.Binding, parents []database.Alert) []*database.Alert {
	var matched []*database.Alert
	var bindings []patterns.Binding
	for i := range parents {
		candidate := patterns.BindAlert(&parents[i])
		if rule.Matches(candidate, incoming) {
			matched = append(matched, &parents[i])
			bindings = append(bindings, candidate)
		}
	}
	if len(matched) == 0 || !rule.HasSimilarity() {
		return matched
	}

	scores := patterns.RankBySimilarity(incoming, bindings, rule.SimilarFields, patterns.SimilarityThreshold)
	reranked := make([]*database.Alert, 0, len(scores))
	for _, s := range scores {
		reranked = append(reranked, matched[s.Index])
	}
	return reranked
}

// groupingAllowed applies the three grouping guards: the closed-parent
// time window, the higher-priority-pattern guard, and the consistency
// guard requiring every existing child to carry the same pattern.
func (e *Engine) groupingAllowed(parent *database.Alert, p *database.Pattern, incoming *database.Alert) bool {
	if parent.Status == alarm.StatusClosed && !parent.LastReceiveTime.IsZero() {
		if incoming.CreateTime.Sub(parent.LastReceiveTime) > e.groupingWindow {
			return false
		}
	}

	if len(parent.Attributes.Patterns) > 0 {
		governing := e.cache.PriorityByName(parent.Attributes.Patterns[0])
		if p.Priority > governing {
			return false
		}
	}

	if len(parent.Attributes.DuplicateAlerts) > 0 {
		children, err := e.store.GetMany(parent.Attributes.DuplicateAlerts)
		if err != nil {
			log.Printf("Failed to load children of incident %s: %v", parent.ID, err)
			return false
		}
		for i := range children {
			if children[i].Attributes.PatternID != p.ID {
				return false
			}
		}
	}
	return true
}

func (e *Engine) applyPatternMatch(incoming *database.Alert, parent *database.Alert, p *database.Pattern) error {
	now := time.Now()
	if err := e.aggregator.Deduplicate(parent.ID, now); err != nil {
		return err
	}

	incoming.Attributes.Incident = false
	incoming.Attributes.WasIncident = false
	incoming.Attributes.PatternName = p.Name
	incoming.Attributes.PatternID = p.ID
	if err := e.store.Save(incoming); err != nil {
		return err
	}

	if parent.Status == alarm.StatusClosed || parent.Status == alarm.StatusExpired {
		previous := incidents.PreviousStatus(parent)
		if previous != "" && incoming.Status != alarm.StatusClosed {
			if err := e.aggregator.SetStatus(parent, previous, "Reopen rule", ""); err != nil {
				return err
			}
		}
	}
	parent.Attributes.DuplicateAlerts = append(parent.Attributes.DuplicateAlerts, incoming.ID)
	parent.Attributes.Patterns = append(parent.Attributes.Patterns, p.Name)
	parent.LastReceiveTime = now
	if err := e.store.Save(parent); err != nil {
		return err
	}

	if err := e.audit.RecordMatch(&database.PatternMatch{
		PatternID:   p.ID,
		PatternName: p.Name,
		IncidentID:  parent.ID,
		AlertID:     incoming.ID,
	}); err != nil {
		log.Printf("Failed to record pattern match: %v", err)
	}
	return nil
}
