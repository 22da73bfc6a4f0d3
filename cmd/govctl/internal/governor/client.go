// Package governor provides a client for the Quintet governor API.
package governor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a client for the governor's governance API.
type Client struct {
	baseURL    string
	token      string
	actor      string
	httpClient *http.Client
}

// Deny is the structured refusal returned for blocked actions.
type Deny struct {
	TeamID             string `json:"team_id"`
	SystemID           string `json:"system_id"`
	SkillName          string `json:"skill_name"`
	FailedRuleCategory string `json:"failed_rule_category"`
	Infrastructure     bool   `json:"infrastructure,omitempty"`
}

// Decision is the outcome of an execution check.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Deny    *Deny `json:"deny,omitempty"`
}

// Linkage records a sub-team's recursion origin.
type Linkage struct {
	SubTeamID      string    `json:"sub_team_id"`
	OriginSystemID string    `json:"origin_system_id"`
	ParentTeamID   string    `json:"parent_team_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type skillListResponse struct {
	Skills []string `json:"skills"`
}

type removeResponse struct {
	RevokedCount int `json:"revoked_count"`
}

type denyResponse struct {
	Deny *Deny `json:"deny"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a governor API client. token is the bearer token for
// mutating calls; actor is the fallback identity header used when the
// governor runs without token verification.
func NewClient(baseURL, token, actor string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		actor:   actor,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListEnvelope returns a team's allowed skills.
func (c *Client) ListEnvelope(teamID string) ([]string, error) {
	var out skillListResponse
	err := c.do("GET", fmt.Sprintf("/api/v1/teams/%s/envelope", teamID), nil, &out)
	return out.Skills, err
}

// AddEnvelopeSkill adds a skill to a team's envelope.
func (c *Client) AddEnvelopeSkill(teamID, skill string) error {
	return c.do("POST", fmt.Sprintf("/api/v1/teams/%s/envelope/%s", teamID, skill), nil, nil)
}

// RemoveEnvelopeSkill removes a skill from a team's envelope and returns
// how many grants were cascade-revoked.
func (c *Client) RemoveEnvelopeSkill(teamID, skill string) (int, error) {
	var out removeResponse
	err := c.do("DELETE", fmt.Sprintf("/api/v1/teams/%s/envelope/%s", teamID, skill), nil, &out)
	return out.RevokedCount, err
}

// ListGrants returns a system's granted skills.
func (c *Client) ListGrants(systemID string) ([]string, error) {
	var out skillListResponse
	err := c.do("GET", fmt.Sprintf("/api/v1/systems/%s/grants", systemID), nil, &out)
	return out.Skills, err
}

// AddGrant grants a skill to a system. A non-nil Deny means the grant
// was refused by policy rather than by an error.
func (c *Client) AddGrant(systemID, skill string) (*Deny, error) {
	req, err := c.newRequest("POST", fmt.Sprintf("/api/v1/systems/%s/grants/%s", systemID, skill), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		var out denyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding deny response: %w", err)
		}
		return out.Deny, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return nil, nil
}

// RemoveGrant revokes a skill grant.
func (c *Client) RemoveGrant(systemID, skill string) error {
	return c.do("DELETE", fmt.Sprintf("/api/v1/systems/%s/grants/%s", systemID, skill), nil, nil)
}

// Check asks whether a system may execute a skill right now.
func (c *Client) Check(systemID, skill string) (*Decision, error) {
	var out Decision
	err := c.do("GET", fmt.Sprintf("/api/v1/systems/%s/check/%s", systemID, skill), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTeam registers a new team.
func (c *Client) CreateTeam(teamID string) error {
	body := map[string]string{"team_id": teamID}
	return c.do("POST", "/api/v1/teams", body, nil)
}

// CreateSystem registers a new system under a team.
func (c *Client) CreateSystem(teamID, systemID string) error {
	body := map[string]string{"system_id": systemID}
	return c.do("POST", fmt.Sprintf("/api/v1/teams/%s/systems", teamID), body, nil)
}

// Link records a sub-team's recursion linkage.
func (c *Client) Link(subTeamID, originSystemID, parentTeamID string) error {
	body := map[string]string{
		"sub_team_id":      subTeamID,
		"origin_system_id": originSystemID,
		"parent_team_id":   parentTeamID,
	}
	return c.do("POST", "/api/v1/linkages", body, nil)
}

// ResolveLinkage returns a team's recursion linkage, or nil when the
// team is not a recursion product.
func (c *Client) ResolveLinkage(teamID string) (*Linkage, error) {
	req, err := c.newRequest("GET", fmt.Sprintf("/api/v1/teams/%s/linkage", teamID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var link Linkage
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, fmt.Errorf("decoding linkage: %w", err)
	}
	return &link, nil
}

func (c *Client) newRequest(method, path string, body interface{}) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.actor != "" {
		req.Header.Set("X-Actor-ID", c.actor)
	}
	return req, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func apiError(resp *http.Response) error {
	var out errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return fmt.Errorf("governor API error (%d): %s", resp.StatusCode, out.Error)
	}
	return fmt.Errorf("governor API error: status %d", resp.StatusCode)
}
