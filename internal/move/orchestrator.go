// Package move reassigns alerts between incident groups.
//
// A move is described by directives naming the alerts to relocate and an
// optional existing target incident. The orchestrator computes the minimal
// attribute diff over every touched alert, so that no alert is ever lost
// from or duplicated in a duplicate list, then applies the diff as one
// bulk attribute update plus one bulk receive-time update.
package move

import (
	"fmt"
	"log"
	"time"

	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/incidents"
	"github.com/alerthub/alerthub/internal/patterns"
)

// TargetNew requests a brand-new incident built from the moved alerts.
const TargetNew = "new"

// Directive names one alert to move. ParentID points at the incident the
// alert currently belongs to, when it has one. All moves an incident
// together with its whole child set.
type Directive struct {
	AlertID    string `json:"id" validate:"required"`
	IsIncident bool   `json:"isIncident"`
	ParentID   string `json:"parentId,omitempty"`
	All        bool   `json:"all,omitempty"`
}

// NotFoundError reports directives that reference alerts missing from the
// database.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find alerts to move: %v", e.IDs)
}

// Result is the outcome of a completed move.
type Result struct {
	Updates      map[string]database.AlertAttributes
	CloseUpdates map[string]database.Alert
}

// Orchestrator performs move operations against the alert store.
type Orchestrator struct {
	store      *database.AlertStore
	audit      *database.PatternStore
	cache      *patterns.Cache
	aggregator *incidents.Aggregator
}

func NewOrchestrator(store *database.AlertStore, audit *database.PatternStore, cache *patterns.Cache, aggregator *incidents.Aggregator) *Orchestrator {
	return &Orchestrator{
		store:      store,
		audit:      audit,
		cache:      cache,
		aggregator: aggregator,
	}
}

// Move relocates the alerts named by the directives into the target
// incident. targetID is either an existing incident id or TargetNew to
// form a fresh group out of the moved alerts. The acting user is recorded
// in the move audit trail.
func (o *Orchestrator) Move(user, targetID string, directives []Directive) (*Result, error) {
	if len(directives) == 0 {
		return nil, fmt.Errorf("no directives given")
	}
	for _, d := range directives {
		if d.AlertID == "" {
			return nil, fmt.Errorf("each directive needs an alert id")
		}
	}
	if targetID != TargetNew {
		directives = append(directives, Directive{AlertID: targetID, IsIncident: true, All: true})
	}

	alerts, err := o.loadBatch(directives)
	if err != nil {
		return nil, err
	}

	updates := processDiffs(alerts, directives)
	o.recalculatePatterns(alerts, updates)
	syncTicketFields(alerts, updates)

	if err := o.store.MassUpdateAttributes(updates); err != nil {
		return nil, err
	}
	times := recalculateLastReceiveTimes(alerts, updates)
	if err := o.store.MassUpdateLastReceiveTime(times); err != nil {
		return nil, err
	}

	closeUpdates := map[string]database.Alert{}
	for id, attrs := range updates {
		if !attrs.Incident {
			continue
		}
		parent, err := o.store.Get(id)
		if err != nil {
			log.Printf("Failed to reload incident %s after move: %v", id, err)
			continue
		}
		closed, err := o.aggregator.RecalculateIncidentClose(parent, false)
		if err != nil {
			log.Printf("Failed to recalculate close for incident %s: %v", id, err)
			continue
		}
		closeUpdates[id] = *closed
	}

	record := &database.MoveRecord{
		User:    user,
		Updates: moveAudit(updates),
	}
	if err := o.audit.RecordMove(record); err != nil {
		log.Printf("Failed to record move history: %v", err)
	}

	return &Result{Updates: updates, CloseUpdates: closeUpdates}, nil
}

// loadBatch gathers every alert a move can touch: the directives' alerts
// and named parents, plus the transitive children of every incident among
// them.
func (o *Orchestrator) loadBatch(directives []Directive) (map[string]*database.Alert, error) {
	unique := map[string]bool{}
	for _, d := range directives {
		unique[d.AlertID] = true
		if d.ParentID != "" {
			unique[d.ParentID] = true
		}
	}

	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	loaded, err := o.store.GetMany(ids)
	if err != nil {
		return nil, err
	}

	alerts := map[string]*database.Alert{}
	for i := range loaded {
		alerts[loaded[i].ID] = &loaded[i]
	}

	var extra []string
	for _, alert := range alerts {
		if !alert.IsIncident() {
			continue
		}
		for _, childID := range alert.Attributes.DuplicateAlerts {
			if !unique[childID] {
				unique[childID] = true
				extra = append(extra, childID)
			}
		}
	}
	if len(extra) > 0 {
		children, err := o.store.GetMany(extra)
		if err != nil {
			return nil, err
		}
		for i := range children {
			alerts[children[i].ID] = &children[i]
		}
	}

	var missing []string
	for _, d := range directives {
		if _, ok := alerts[d.AlertID]; !ok {
			missing = append(missing, d.AlertID)
		}
	}
	if len(missing) > 0 {
		return nil, &NotFoundError{IDs: missing}
	}
	return alerts, nil
}

// processDiffs computes the structural attribute changes of a move. The
// earliest-created directive alert becomes the main parent; moved
// non-incidents leave their old parents' duplicate lists; moved incidents
// are absorbed whole or stripped of the moved children, with any leftover
// children re-formed into a sub-group under their earliest member.
func processDiffs(alerts map[string]*database.Alert, directives []Directive) map[string]database.AlertAttributes {
	updates := map[string]database.AlertAttributes{}

	findEarliest := func(ids []string) string {
		earliest := ids[0]
		for _, id := range ids[1:] {
			if alerts[id].CreateTime.Before(alerts[earliest].CreateTime) {
				earliest = id
			}
		}
		return earliest
	}

	directiveIDs := map[string]bool{}
	allIDs := make([]string, 0, len(directives))
	for _, d := range directives {
		if !directiveIDs[d.AlertID] {
			directiveIDs[d.AlertID] = true
			allIDs = append(allIDs, d.AlertID)
		}
	}
	mainParentID := findEarliest(allIDs)
	mainParent := alerts[mainParentID]

	moved := map[string]bool{}
	var movedOrder []string
	addMoved := func(id string) {
		if !moved[id] {
			moved[id] = true
			movedOrder = append(movedOrder, id)
		}
	}

	for _, d := range directives {
		alert := alerts[d.AlertID]
		attrs := attrsFor(alerts, updates, d.AlertID)

		if !alert.IsIncident() {
			addMoved(d.AlertID)
			if d.ParentID != "" {
				parentAttrs := attrsFor(alerts, updates, d.ParentID)
				parentAttrs.DuplicateAlerts = without(parentAttrs.DuplicateAlerts, d.AlertID)
				updates[d.ParentID] = parentAttrs
			}
			continue
		}

		duplicates := attrs.DuplicateAlerts
		if d.All {
			// The whole group moves.
			for _, childID := range duplicates {
				addMoved(childID)
			}
			if d.AlertID != mainParentID {
				addMoved(d.AlertID)
				attrs.DuplicateAlerts = nil
				attrs.Incident = false
				updates[d.AlertID] = attrs
			}
			continue
		}

		if d.AlertID != mainParentID {
			addMoved(d.AlertID)
			attrs.Incident = false
			updates[d.AlertID] = attrs
		}
		var leftover []string
		for _, childID := range duplicates {
			if directiveIDs[childID] {
				addMoved(childID)
				attrs.DuplicateAlerts = without(attrs.DuplicateAlerts, childID)
				updates[d.AlertID] = attrs
			} else {
				leftover = append(leftover, childID)
			}
		}

		var subParentID string
		switch {
		case len(leftover) > 1:
			subParentID = findEarliest(leftover)
			subAttrs := attrsFor(alerts, updates, subParentID)
			subAttrs.DuplicateAlerts = without(leftover, subParentID)
			subAttrs.Incident = true
			updates[subParentID] = subAttrs
		case len(leftover) == 1:
			subParentID = leftover[0]
			subAttrs := attrsFor(alerts, updates, subParentID)
			subAttrs.DuplicateAlerts = nil
			subAttrs.Incident = true
			updates[subParentID] = subAttrs
		default:
			continue
		}

		if d.AlertID != subParentID {
			attrs = updates[d.AlertID]
			attrs.Incident = false
			attrs.DuplicateAlerts = nil
			updates[d.AlertID] = attrs
		}
	}

	mainAttrs, ok := updates[mainParentID]
	if !ok {
		mainAttrs = mainParent.Attributes
	}
	mainAttrs.Incident = true
	for _, id := range movedOrder {
		if id != mainParentID && !contains(mainAttrs.DuplicateAlerts, id) {
			mainAttrs.DuplicateAlerts = append(mainAttrs.DuplicateAlerts, id)
		}
	}
	updates[mainParentID] = mainAttrs

	return updates
}

// recalculatePatterns re-checks the active patterns against each touched
// incident's final child set. A pattern tag survives only when the rule
// still covers every child; the first covering pattern in priority order
// wins, and its id and name are stamped onto the children.
func (o *Orchestrator) recalculatePatterns(alerts map[string]*database.Alert, updates map[string]database.AlertAttributes) {
	active := o.cache.ActivePatterns()

	incidentIDs := make([]string, 0, len(updates))
	for id := range updates {
		incidentIDs = append(incidentIDs, id)
	}

	for _, incidentID := range incidentIDs {
		attrs := updates[incidentID]
		if !attrs.Incident || len(attrs.DuplicateAlerts) == 0 {
			continue
		}
		parent, ok := alerts[incidentID]
		if !ok {
			log.Printf("Incident %s missing from move batch, skipping pattern recalculation", incidentID)
			continue
		}
		incoming := patterns.BindAlert(parent)

		attrs.Patterns = nil
		for _, p := range active {
			rule, err := patterns.Parse(p.Rule)
			if err != nil {
				log.Printf("Skipping pattern %q with invalid rule: %v", p.Name, err)
				continue
			}
			if !o.patternCoversChildren(rule, incoming, alerts, updates, attrs.DuplicateAlerts) {
				continue
			}
			attrs.Patterns = append(attrs.Patterns, p.Name)
			for _, childID := range attrs.DuplicateAlerts {
				childAttrs := attrsFor(alerts, updates, childID)
				childAttrs.PatternName = p.Name
				childAttrs.PatternID = p.ID
				updates[childID] = childAttrs
			}
			break
		}
		updates[incidentID] = attrs
	}
}

func (o *Orchestrator) patternCoversChildren(rule *patterns.Rule, incoming patterns.Binding, alerts map[string]*database.Alert, updates map[string]database.AlertAttributes, childIDs []string) bool {
	for _, childID := range childIDs {
		child, ok := alerts[childID]
		if !ok {
			log.Printf("Child alert %s not found for pattern recalculation", childID)
			return false
		}
		if !rule.Matches(patterns.BindAlert(child), incoming) {
			return false
		}
	}
	return len(childIDs) > 0
}

// syncTicketFields migrates external ticket references from children up to
// their new parent. When more than one child carries a ticket the conflict
// is logged and left untouched instead of guessing.
func syncTicketFields(alerts map[string]*database.Alert, updates map[string]database.AlertAttributes) {
	for parentID, attrs := range updates {
		if !attrs.Incident || len(attrs.DuplicateAlerts) == 0 {
			continue
		}
		if attrs.TicketKey != "" {
			continue
		}

		var owner string
		conflict := false
		for _, childID := range attrs.DuplicateAlerts {
			childAttrs := attrsFor(alerts, updates, childID)
			if childAttrs.TicketKey == "" && childAttrs.TicketURL == "" && childAttrs.TicketStatus == "" {
				continue
			}
			if owner != "" {
				conflict = true
				break
			}
			owner = childID
		}
		if conflict {
			log.Printf("Multiple ticket references among children of %s, leaving tickets in place", parentID)
			continue
		}
		if owner == "" {
			continue
		}

		childAttrs := attrsFor(alerts, updates, owner)
		attrs.TicketKey = childAttrs.TicketKey
		attrs.TicketURL = childAttrs.TicketURL
		attrs.TicketStatus = childAttrs.TicketStatus
		childAttrs.TicketKey = ""
		childAttrs.TicketURL = ""
		childAttrs.TicketStatus = ""
		updates[owner] = childAttrs
		updates[parentID] = attrs
		log.Printf("Moved ticket %s from alert %s to incident %s", attrs.TicketKey, owner, parentID)
	}
}

// recalculateLastReceiveTimes derives each touched incident's last receive
// time as the maximum receive time over its final membership.
func recalculateLastReceiveTimes(alerts map[string]*database.Alert, updates map[string]database.AlertAttributes) map[string]time.Time {
	times := map[string]time.Time{}
	for id, attrs := range updates {
		alert, ok := alerts[id]
		if !ok || !attrs.Incident {
			continue
		}
		if len(attrs.DuplicateAlerts) == 0 {
			if !alert.LastReceiveTime.Equal(alert.ReceiveTime) {
				times[id] = alert.ReceiveTime
			}
			continue
		}
		var latest time.Time
		for _, childID := range attrs.DuplicateAlerts {
			child, ok := alerts[childID]
			if !ok {
				continue
			}
			if child.ReceiveTime.After(latest) {
				latest = child.ReceiveTime
			}
		}
		if !latest.IsZero() && !latest.Equal(alert.LastReceiveTime) {
			times[id] = latest
		}
	}
	return times
}

func attrsFor(alerts map[string]*database.Alert, updates map[string]database.AlertAttributes, id string) database.AlertAttributes {
	if attrs, ok := updates[id]; ok {
		return attrs
	}
	if alert, ok := alerts[id]; ok {
		return alert.Attributes
	}
	return database.AlertAttributes{}
}

func moveAudit(updates map[string]database.AlertAttributes) database.JSONB {
	audit := database.JSONB{}
	for id, attrs := range updates {
		audit[id] = map[string]interface{}{
			"incident":         attrs.Incident,
			"duplicate_alerts": attrs.DuplicateAlerts,
			"patterns":         attrs.Patterns,
		}
	}
	return audit
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func contains(list []string, id string) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
