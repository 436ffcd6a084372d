package incidents

import (
	"testing"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/testhelpers"
)

func newAggregator(t *testing.T) (*Aggregator, *database.AlertStore) {
	db := testhelpers.OpenTestDB(t, &database.Alert{})
	store := database.NewAlertStore(db)
	return NewAggregator(store, alarm.NewModel(nil), 100), store
}

func makeParent(t *testing.T, store *database.AlertStore, id string, status alarm.Status, children ...string) *database.Alert {
	t.Helper()
	alert := testhelpers.NewAlertBuilder().
		WithID(id).
		WithResource("r1").
		WithEvent("host-" + id).
		WithSeverity(alarm.SeverityMajor).
		WithStatus(status).
		WithDuplicates(children...).
		Build()
	if err := store.Create(&alert); err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	return &alert
}

func makeChild(t *testing.T, store *database.AlertStore, id string, status alarm.Status) *database.Alert {
	t.Helper()
	alert := testhelpers.NewAlertBuilder().
		WithID(id).
		WithResource("r1").
		WithEvent("host-" + id).
		WithSeverity(alarm.SeverityMinor).
		WithStatus(status).
		Build()
	if err := store.Create(&alert); err != nil {
		t.Fatalf("failed to create child: %v", err)
	}
	return &alert
}

func TestDeduplicateOnlyTouchesLastReceive(t *testing.T) {
	agg, store := newAggregator(t)
	parent := makeParent(t, store, "p1", alarm.StatusOpen)
	parent.DuplicateCount = 3
	parent.Severity = alarm.SeverityCritical
	if err := store.Save(parent); err != nil {
		t.Fatalf("save: %v", err)
	}

	bump := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	if err := agg.Deduplicate("p1", bump); err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	// Applying the same dedup again must change nothing further.
	if err := agg.Deduplicate("p1", bump); err != nil {
		t.Fatalf("Deduplicate again: %v", err)
	}

	got, err := store.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastReceiveTime.Equal(bump) {
		t.Errorf("last receive time = %v, want %v", got.LastReceiveTime, bump)
	}
	if got.DuplicateCount != 3 || got.Severity != alarm.SeverityCritical {
		t.Error("dedup must not modify anything but last receive bookkeeping")
	}
}

func TestFindParent(t *testing.T) {
	agg, store := newAggregator(t)
	makeParent(t, store, "p1", alarm.StatusOpen, "c1", "c2")
	child := makeChild(t, store, "c1", alarm.StatusOpen)

	parent, err := agg.FindParent(child)
	if err != nil {
		t.Fatalf("FindParent: %v", err)
	}
	if parent == nil || parent.ID != "p1" {
		t.Fatalf("expected parent p1, got %+v", parent)
	}

	// A parent is its own parent.
	self, err := agg.FindParent(parent)
	if err != nil {
		t.Fatalf("FindParent(parent): %v", err)
	}
	if self.ID != "p1" {
		t.Errorf("parent of parent = %s, want itself", self.ID)
	}

	orphan := makeChild(t, store, "c9", alarm.StatusOpen)
	got, err := agg.FindParent(orphan)
	if err != nil {
		t.Fatalf("FindParent(orphan): %v", err)
	}
	if got != nil {
		t.Errorf("orphan parent = %v, want nil", got.ID)
	}
}

func TestRecalculateStatusDurations(t *testing.T) {
	agg, store := newAggregator(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alert := makeParent(t, store, "p1", alarm.StatusClosed)
	alert.History = database.History{
		{Status: alarm.StatusClosed, UpdateTime: base.Add(90 * time.Second)},
		{Status: alarm.StatusAck, UpdateTime: base.Add(30 * time.Second)},
		{Status: alarm.StatusOpen, UpdateTime: base},
	}
	if err := store.Save(alert); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := agg.RecalculateStatusDurations(alert); err != nil {
		t.Fatalf("RecalculateStatusDurations: %v", err)
	}

	got, err := store.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	durations := got.Attributes.StatusDurations
	if durations["open"] != 30 {
		t.Errorf("open duration = %f, want 30", durations["open"])
	}
	if durations["ack"] != 60 {
		t.Errorf("ack duration = %f, want 60", durations["ack"])
	}
	// The terminal status has no successor entry and accrues nothing.
	if durations["closed"] != 0 {
		t.Errorf("closed duration = %f, want 0", durations["closed"])
	}
}

func TestRecalculateStatusDurationsEmptyHistory(t *testing.T) {
	agg, store := newAggregator(t)
	alert := makeParent(t, store, "p1", alarm.StatusOpen)

	if err := agg.RecalculateStatusDurations(alert); err != nil {
		t.Fatalf("empty history must be a no-op, got %v", err)
	}
	got, _ := store.Get("p1")
	if got.Attributes.StatusDurations != nil {
		t.Error("no durations should be written without history")
	}
}

func TestRecalculateIncidentCloseAllClosed(t *testing.T) {
	agg, store := newAggregator(t)
	parent := makeParent(t, store, "p1", alarm.StatusClosed, "c1")
	makeChild(t, store, "c1", alarm.StatusClosed)

	got, err := agg.RecalculateIncidentClose(parent, false)
	if err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}
	if got.Status != alarm.StatusClosed {
		t.Errorf("fully closed family must stay closed, got %s", got.Status)
	}
}

func TestRecalculateIncidentCloseChildClosesParent(t *testing.T) {
	agg, store := newAggregator(t)
	parent := makeParent(t, store, "p1", alarm.StatusOpen, "c1", "c2")
	parent.Attributes.ExternalResolved = true
	if err := store.Save(parent); err != nil {
		t.Fatalf("save: %v", err)
	}
	makeChild(t, store, "c1", alarm.StatusClosed)
	child := makeChild(t, store, "c2", alarm.StatusClosed)

	if _, err := agg.RecalculateIncidentClose(child, false); err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}

	got, err := store.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != alarm.StatusClosed {
		t.Errorf("parent status = %s, want closed", got.Status)
	}
}

func TestRecalculateIncidentCloseNotWithoutExternalResolve(t *testing.T) {
	agg, store := newAggregator(t)
	makeParent(t, store, "p1", alarm.StatusOpen, "c1")
	child := makeChild(t, store, "c1", alarm.StatusClosed)

	if _, err := agg.RecalculateIncidentClose(child, false); err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}
	got, _ := store.Get("p1")
	if got.Status != alarm.StatusOpen {
		t.Errorf("parent without external resolution must stay open, got %s", got.Status)
	}
}

func TestRecalculateIncidentCloseReopensParentWithOpenChildren(t *testing.T) {
	agg, store := newAggregator(t)
	parent := makeParent(t, store, "p1", alarm.StatusClosed, "c1")
	parent.History = database.History{
		{Status: alarm.StatusClosed, UpdateTime: time.Now()},
		{Status: alarm.StatusAck, UpdateTime: time.Now().Add(-time.Minute)},
	}
	if err := store.Save(parent); err != nil {
		t.Fatalf("save: %v", err)
	}
	makeChild(t, store, "c1", alarm.StatusOpen)

	got, err := agg.RecalculateIncidentClose(parent, false)
	if err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}
	if got.Status != alarm.StatusAck {
		t.Errorf("parent must reopen to previous status ack, got %s", got.Status)
	}
	if !got.Attributes.ExternalResolved {
		t.Error("reopened parent must remember the external resolution")
	}
}

func TestRecalculateIncidentCloseOptimistic(t *testing.T) {
	agg, store := newAggregator(t)

	// No children: an optimistic close really closes.
	parent := makeParent(t, store, "p1", alarm.StatusOpen)
	got, err := agg.RecalculateIncidentClose(parent, true)
	if err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}
	if got.Status != alarm.StatusClosed {
		t.Errorf("optimistic close without children: got %s, want closed", got.Status)
	}

	// Open children: only the resolution marker is recorded.
	parent2 := makeParent(t, store, "p2", alarm.StatusOpen, "c1")
	makeChild(t, store, "c1", alarm.StatusOpen)
	got, err = agg.RecalculateIncidentClose(parent2, true)
	if err != nil {
		t.Fatalf("RecalculateIncidentClose: %v", err)
	}
	if got.Status != alarm.StatusOpen {
		t.Errorf("optimistic close with open children: got %s, want open", got.Status)
	}
	if !got.Attributes.ExternalResolved {
		t.Error("external resolution must be recorded")
	}
}

func TestPreviousStatus(t *testing.T) {
	alert := &database.Alert{
		Status: alarm.StatusClosed,
		History: database.History{
			{Status: alarm.StatusClosed, UpdateTime: time.Now()},
			{Status: alarm.StatusAck, UpdateTime: time.Now().Add(-time.Minute)},
			{Status: alarm.StatusOpen, UpdateTime: time.Now().Add(-2 * time.Minute)},
		},
	}
	if got := PreviousStatus(alert); got != alarm.StatusAck {
		t.Errorf("PreviousStatus = %s, want ack", got)
	}

	if got := PreviousStatus(&database.Alert{Status: alarm.StatusOpen}); got != "" {
		t.Errorf("no history: PreviousStatus = %s, want empty", got)
	}
}
