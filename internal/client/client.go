// Package client talks to the call API over HTTP and to its push socket. It
// implements session.Backend and session.Push.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/transport/httpdto"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
)

type Config struct {
	BaseURL string
	Token   string
	// UserID names the caller's own incoming channel.
	UserID uuid.UUID
	HTTP   *http.Client
	Logger *logger.Logger
}

type Client struct {
	baseURL string
	token   string
	userID  uuid.UUID
	http    *http.Client
	log     *logger.Logger
	push    *pushConn
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   cfg.Token,
		userID:  cfg.UserID,
		http:    httpClient,
		log:     log.Named("client"),
	}
	c.push = newPushConn(c.wsURL(), c.token, c.log)
	return c
}

// Close drops the push socket.
func (c *Client) Close() error {
	return c.push.close()
}

func (c *Client) InitiateCall(ctx context.Context, receiverID uuid.UUID, t call.Type) (call.Call, error) {
	body := httpdto.CreateCallRequest{ReceiverID: receiverID.String(), Type: string(t)}
	return c.callRequest(ctx, http.MethodPost, "/v1/calls", body)
}

func (c *Client) Accept(ctx context.Context, callID uuid.UUID) (call.Call, error) {
	return c.callRequest(ctx, http.MethodPost, "/v1/calls/"+callID.String()+"/accept", nil)
}

func (c *Client) Reject(ctx context.Context, callID uuid.UUID) (call.Call, error) {
	return c.callRequest(ctx, http.MethodPost, "/v1/calls/"+callID.String()+"/reject", nil)
}

func (c *Client) Miss(ctx context.Context, callID uuid.UUID) (call.Call, error) {
	return c.callRequest(ctx, http.MethodPost, "/v1/calls/"+callID.String()+"/miss", nil)
}

func (c *Client) End(ctx context.Context, callID uuid.UUID, duration *int) (call.Call, error) {
	return c.callRequest(ctx, http.MethodPost, "/v1/calls/"+callID.String()+"/end", httpdto.EndCallRequest{DurationSeconds: duration})
}

func (c *Client) GetCall(ctx context.Context, callID uuid.UUID) (call.Call, error) {
	return c.callRequest(ctx, http.MethodGet, "/v1/calls/"+callID.String(), nil)
}

// Current returns the call the user holds, if any.
func (c *Client) Current(ctx context.Context) (call.Call, bool, error) {
	item, err := c.callRequest(ctx, http.MethodGet, "/v1/calls/current", nil)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return call.Call{}, false, nil
	}
	return item, err == nil, err
}

func (c *Client) LatestRinging(ctx context.Context, window time.Duration) (call.Call, bool, error) {
	path := "/v1/calls/incoming?since=" + url.QueryEscape(window.String())
	item, err := c.callRequest(ctx, http.MethodGet, path, nil)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return call.Call{}, false, nil
	}
	return item, err == nil, err
}

func (c *Client) CheckBusy(ctx context.Context, userID uuid.UUID) (bool, error) {
	var out httpdto.BusyStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/calls/busy/"+userID.String(), nil, &out); err != nil {
		return false, err
	}
	return out.Busy, nil
}

func (c *Client) History(ctx context.Context, page, limit int) ([]call.Call, int64, error) {
	path := fmt.Sprintf("/v1/calls/history?page=%d&limit=%d", page, limit)
	var out httpdto.ListCallsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	calls := make([]call.Call, 0, len(out.Calls))
	for _, dto := range out.Calls {
		item, err := dto.ToCall()
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, item)
	}
	return calls, out.Total, nil
}

func (c *Client) SendSignal(ctx context.Context, callID uuid.UUID, sig call.Signal) (call.RelayedSignal, error) {
	var out call.RelayedSignal
	err := c.do(ctx, http.MethodPost, "/v1/calls/"+callID.String()+"/signals", sig, &out)
	return out, err
}

func (c *Client) ListSignals(ctx context.Context, callID uuid.UUID, after uint64) ([]call.RelayedSignal, error) {
	path := "/v1/calls/" + callID.String() + "/signals?after=" + strconv.FormatUint(after, 10)
	var out httpdto.ListSignalsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// callRequest decodes a call response. A converged duplicate returns the
// record together with ErrDuplicateEvent.
func (c *Client) callRequest(ctx context.Context, method, path string, body any) (call.Call, error) {
	var dto httpdto.CallDTO
	err := c.do(ctx, method, path, body, &dto)
	if err != nil && !errors.Is(err, sentinal_errors.ErrDuplicateEvent) {
		return call.Call{}, err
	}
	item, perr := dto.ToCall()
	if perr != nil {
		return call.Call{}, fmt.Errorf("decode call: %w", perr)
	}
	return item, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var envelope httpdto.Response[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: status %s: %w", method, path, resp.Status, err)
	}
	if !envelope.Success {
		return decodeError(resp.StatusCode, envelope)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if envelope.Code == httpdto.CodeDuplicateEvent {
		return sentinal_errors.ErrDuplicateEvent
	}
	return nil
}

var codeErrors = map[string]error{
	httpdto.CodeNotFound:          sentinal_errors.ErrNotFound,
	httpdto.CodeForbidden:         sentinal_errors.ErrForbidden,
	httpdto.CodeUnauthorized:      sentinal_errors.ErrUnauthorized,
	httpdto.CodeInvalidInput:      sentinal_errors.ErrInvalidInput,
	httpdto.CodeMalformedSignal:   sentinal_errors.ErrMalformedSignal,
	httpdto.CodeInvalidTransition: sentinal_errors.ErrInvalidTransition,
	httpdto.CodeCallTerminated:    sentinal_errors.ErrCallTerminated,
	httpdto.CodeRateLimited:       sentinal_errors.ErrRateLimited,
}

// decodeError turns an error envelope back into the sentinel it came from.
func decodeError(status int, envelope httpdto.Response[json.RawMessage]) error {
	if envelope.Code == httpdto.CodeBusy {
		var busy httpdto.BusyDTO
		if err := json.Unmarshal(envelope.Data, &busy); err == nil && busy.Party != "" {
			return sentinal_errors.NewBusy(sentinal_errors.Party(busy.Party), busy.UserID)
		}
		return sentinal_errors.ErrBusy
	}
	if sentinel, ok := codeErrors[envelope.Code]; ok {
		return fmt.Errorf("%w: %s", sentinel, envelope.Error)
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", sentinal_errors.ErrServiceUnavailable, envelope.Error)
	}
	return fmt.Errorf("unexpected response %d %s: %s", status, envelope.Code, envelope.Error)
}

func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/ws"
}
