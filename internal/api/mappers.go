package api

import (
	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// ToAlert converts a receive request into a database Alert, filling in the
// environment, severity and timeout defaults.
func (r *ReceiveAlertRequest) ToAlert() *database.Alert {
	alert := &database.Alert{
		Resource:    r.Resource,
		Event:       r.Event,
		Environment: r.Environment,
		Severity:    alarm.Severity(r.Severity),
		Correlate:   database.StringArray(r.Correlate),
		Service:     database.StringArray(r.Service),
		Group:       r.Group,
		Value:       r.Value,
		Text:        r.Text,
		Tags:        database.StringArray(r.Tags),
		Attributes:  r.Attributes,
		Origin:      r.Origin,
		EventType:   r.Type,
		RawData:     r.RawData,
		Customer:    r.Customer,
		Timeout:     DefaultTimeout,
	}
	if alert.Environment == "" {
		alert.Environment = DefaultEnvironment
	}
	if alert.Severity == "" {
		alert.Severity = alarm.DefaultNormalSeverity
	}
	if r.Timeout != nil {
		alert.Timeout = *r.Timeout
	}
	return alert
}

// AlertToListItem converts a database Alert to a compact list representation.
func AlertToListItem(a database.Alert) AlertListItem {
	return AlertListItem{
		ID:              a.ID,
		Resource:        a.Resource,
		Event:           a.Event,
		Environment:     a.Environment,
		Severity:        a.Severity,
		Status:          a.Status,
		Value:           a.Value,
		Text:            a.Text,
		Tags:            a.Tags,
		Incident:        a.Attributes.Incident,
		DuplicateCount:  a.DuplicateCount,
		ChildCount:      len(a.Attributes.DuplicateAlerts),
		PatternName:     a.Attributes.PatternName,
		TicketKey:       a.Attributes.TicketKey,
		IssueID:         a.IssueID,
		CreateTime:      a.CreateTime,
		LastReceiveTime: a.LastReceiveTime,
	}
}

// AlertsToListItems converts a slice of database Alerts to list items.
func AlertsToListItems(alerts []database.Alert) []AlertListItem {
	items := make([]AlertListItem, len(alerts))
	for i, a := range alerts {
		items[i] = AlertToListItem(a)
	}
	return items
}
