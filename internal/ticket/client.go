// Package ticket integrates alerts with an external issue tracker.
package ticket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// Creator opens a tracker ticket for an alert.
type Creator interface {
	CreateTicket(alert *database.Alert) (key, url string, err error)
}

// Tracker workflow transition ids and the status each one lands in.
var transitionIDs = map[alarm.TicketTransition]struct {
	id     string
	status string
}{
	alarm.TicketTransitionFalsePositive: {"261", "False Positive"},
	alarm.TicketTransitionFixedByDuty:   {"271", "Closed"},
	alarm.TicketTransitionSelfHealed:    {"201", "Closed"},
	alarm.TicketTransitionWorkDone:      {"81", "Observing"},
	alarm.TicketTransitionEscalated:     {"161", "Pending"},
}

// Client talks to the tracker REST API. It implements both Creator and
// alarm.Transitioner.
type Client struct {
	baseURL    string
	token      string
	projectKey string
	httpClient *http.Client
}

func NewClient(baseURL, token, projectKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		projectKey: projectKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether the client can reach a tracker at all.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

type createRequest struct {
	Fields createFields `json:"fields"`
}

type createFields struct {
	Project     projectRef `json:"project"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	IssueType   typeRef    `json:"issuetype"`
	Labels      []string   `json:"labels,omitempty"`
}

type projectRef struct {
	Key string `json:"key"`
}

type typeRef struct {
	Name string `json:"name"`
}

type createResponse struct {
	Key  string `json:"key"`
	Self string `json:"self"`
}

type transitionRequest struct {
	Transition transitionRef `json:"transition"`
}

type transitionRef struct {
	ID string `json:"id"`
}

// CreateTicket opens a tracker issue describing the alert and returns its
// key and browse URL.
func (c *Client) CreateTicket(alert *database.Alert) (string, string, error) {
	if !c.Configured() {
		return "", "", fmt.Errorf("ticket client is not configured")
	}

	reqBody := createRequest{
		Fields: createFields{
			Project:     projectRef{Key: c.projectKey},
			Summary:     fmt.Sprintf("[%s] %s on %s", alert.Severity, alert.Event, alert.Resource),
			Description: alert.Text,
			IssueType:   typeRef{Name: "Incident"},
			Labels:      []string(alert.Tags),
		},
	}
	var resp createResponse
	if err := c.post("/rest/api/2/issue", reqBody, &resp); err != nil {
		return "", "", fmt.Errorf("failed to create ticket: %w", err)
	}
	browseURL := fmt.Sprintf("%s/browse/%s", c.baseURL, resp.Key)
	log.Printf("Created ticket %s for alert %s", resp.Key, alert.ID)
	return resp.Key, browseURL, nil
}

// TransitionTicket moves an existing ticket through the tracker workflow
// and returns the status it landed in.
func (c *Client) TransitionTicket(ticketKey string, transition alarm.TicketTransition) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("ticket client is not configured")
	}
	target, ok := transitionIDs[transition]
	if !ok {
		return "", fmt.Errorf("unknown ticket transition %q", transition)
	}

	path := fmt.Sprintf("/rest/api/2/issue/%s/transitions", ticketKey)
	if err := c.post(path, transitionRequest{Transition: transitionRef{ID: target.id}}, nil); err != nil {
		return "", fmt.Errorf("failed to transition ticket %s: %w", ticketKey, err)
	}
	return target.status, nil
}

func (c *Client) post(path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracker returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
