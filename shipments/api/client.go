package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courier-driver-agent/auth"
	"courier-driver-agent/shipments/models"
	"courier-driver-agent/shipments/signature"
)

// Client performs authenticated calls against the shipment backend and
// normalizes outcomes into the error taxonomy in errors.go. The one
// automatic recovery action it takes is signing the session out on a 401;
// every other failure is returned to the caller.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	logger     *zap.Logger
	httpClient *http.Client
}

func NewClient(baseURL string, tokens auth.TokenProvider, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		logger:     logger,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("transId", uuid.New().String())
	req.Header.Set("transactionSrc", "courier_driver_agent")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// The credential is permanently invalid for this session, whichever
		// call surfaced it.
		c.logger.Warn("Credential rejected by backend, signing out")
		c.tokens.SignOut()
	}
	return resp, nil
}

var errCredentialRejected = errors.New("credential rejected by backend")

// serverError drains the response body and builds a ServerError, keeping the
// backend's own message when the body carries one.
func serverError(resp *http.Response) *ServerError {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &ServerError{StatusCode: resp.StatusCode, Message: body.Error}
}

// ListAssignedTasks fetches the shipments assigned to the authenticated
// driver and the driver id the backend resolved for it (X-Driver-ID header).
// A 401 means the credential is permanently invalid for this session: the
// session is signed out and an empty list is returned without error so the
// task list degrades instead of crashing.
func (c *Client) ListAssignedTasks(ctx context.Context) ([]models.Shipment, string, error) {
	resp, err := c.do(ctx, "GET", "/drivers", nil)
	if err != nil {
		return nil, "", err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		// Already signed out by do; degrade to an empty list instead of an
		// error so the list view clears rather than crashes.
		return []models.Shipment{}, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", serverError(resp)
	}

	tasks, err := decodeTaskList(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return tasks, resp.Header.Get("X-Driver-ID"), nil
}

// decodeTaskList accepts both response shapes the backend has used: a bare
// array, or an object wrapping it under "tasks".
func decodeTaskList(body io.Reader) ([]models.Shipment, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}

	var tasks []models.Shipment
	if err := json.Unmarshal(raw, &tasks); err == nil {
		return tasks, nil
	}

	var wrapped struct {
		Tasks []models.Shipment `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Tasks, nil
}

func (c *Client) GetShipment(ctx context.Context, id string) (models.Shipment, error) {
	resp, err := c.do(ctx, "GET", "/shipments/"+id, nil)
	if err != nil {
		return models.Shipment{}, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return models.Shipment{}, &AuthError{Err: errCredentialRejected}
	}
	if resp.StatusCode == http.StatusNotFound {
		return models.Shipment{}, &NotFoundError{ID: id}
	}
	if resp.StatusCode != http.StatusOK {
		return models.Shipment{}, serverError(resp)
	}

	var shipment models.Shipment
	if err := json.NewDecoder(resp.Body).Decode(&shipment); err != nil {
		return models.Shipment{}, err
	}
	return shipment, nil
}

// UpdateStatus proposes the next status for a shipment. The caller is
// responsible for only requesting a legal progression; the client does not
// re-validate it.
func (c *Client) UpdateStatus(ctx context.Context, id string, next models.Status) (models.Shipment, error) {
	payload := map[string]string{"status": string(next)}
	resp, err := c.do(ctx, "PUT", "/shipments/"+id, payload)
	if err != nil {
		return models.Shipment{}, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return models.Shipment{}, &AuthError{Err: errCredentialRejected}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Shipment{}, serverError(resp)
	}

	var shipment models.Shipment
	if err := json.NewDecoder(resp.Body).Decode(&shipment); err != nil {
		return models.Shipment{}, err
	}
	return shipment, nil
}

// UploadSignature posts proof of delivery. The payload is normalized so the
// backend always receives a well-formed data URI regardless of whether the
// capture layer included the prefix. Any failure here is an UploadError,
// never a status failure: the Delivered transition already committed.
func (c *Client) UploadSignature(ctx context.Context, id, trackingNumber, signatureDataURI string) error {
	payload := map[string]string{
		"signature":      signature.Normalize(signatureDataURI),
		"trackingNumber": trackingNumber,
	}
	resp, err := c.do(ctx, "POST", "/shipments/"+id+"/signature", payload)
	if err != nil {
		return &UploadError{Err: err}
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return &UploadError{Err: &AuthError{Err: errCredentialRejected}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UploadError{Err: serverError(resp)}
	}
	return nil
}
