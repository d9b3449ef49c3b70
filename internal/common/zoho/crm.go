package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const DefaultBaseURL = "https://www.zohoapis.com/crm/v3"

type CRMClient struct {
	oauthToken string
	baseURL    string
	httpClient *http.Client
}

// Contact is a Zoho CRM contact. Properties carries custom fields (API names)
// and is flattened into the record when marshalled.
type Contact struct {
	ID         string                 `json:"id,omitempty"`
	Email      string                 `json:"Email"`
	FirstName  string                 `json:"First_Name"`
	LastName   string                 `json:"Last_Name"`
	Phone      string                 `json:"Phone,omitempty"`
	Source     string                 `json:"Lead_Source,omitempty"`
	Properties map[string]interface{} `json:"-"`
}

func (c Contact) MarshalJSON() ([]byte, error) {
	record := make(map[string]interface{}, len(c.Properties)+6)
	for k, v := range c.Properties {
		record[k] = v
	}
	if c.ID != "" {
		record["id"] = c.ID
	}
	record["Email"] = c.Email
	record["First_Name"] = c.FirstName
	record["Last_Name"] = c.LastName
	if c.Phone != "" {
		record["Phone"] = c.Phone
	}
	if c.Source != "" {
		record["Lead_Source"] = c.Source
	}
	return json.Marshal(record)
}

type recordResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"data"`
}

// APIError is returned for any non-success HTTP status.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoho %s failed (status %d): %s", e.Operation, e.StatusCode, e.Body)
}

// Unauthorized reports whether the token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func NewCRMClient(baseURL, oauthToken string, timeout time.Duration) *CRMClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CRMClient{
		oauthToken: oauthToken,
		baseURL:    baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *CRMClient) CreateContact(ctx context.Context, contact *Contact) (string, error) {
	return c.writeRecord(ctx, "create_contact", http.MethodPost, fmt.Sprintf("%s/Contacts", c.baseURL), contact)
}

func (c *CRMClient) UpdateContact(ctx context.Context, contactID string, contact *Contact) error {
	_, err := c.writeRecord(ctx, "update_contact", http.MethodPut, fmt.Sprintf("%s/Contacts/%s", c.baseURL, url.PathEscape(contactID)), contact)
	return err
}

func (c *CRMClient) writeRecord(ctx context.Context, op, method, endpoint string, contact *Contact) (string, error) {
	payload := map[string]interface{}{
		"data": []Contact{*contact},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal contact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.oauthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &APIError{Operation: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var recordResp recordResponse
	if err := json.Unmarshal(body, &recordResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(recordResp.Data) == 0 {
		return "", fmt.Errorf("no data in response")
	}

	if recordResp.Data[0].Status != "success" {
		return "", fmt.Errorf("%s failed: %s", op, recordResp.Data[0].Message)
	}

	return recordResp.Data[0].Details.ID, nil
}

// SearchContacts searches contacts by email. Zoho answers 204 when nothing matches.
func (c *CRMClient) SearchContacts(ctx context.Context, email string) ([]Contact, error) {
	endpoint := fmt.Sprintf("%s/Contacts/search?email=%s", c.baseURL, url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.oauthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Operation: "search_contacts", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Data []Contact `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Data, nil
}
