package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Error   *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

type sessionData struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// User is the subset of the account returned at login.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
}

// APIError is a non-2xx envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Fields    map[string]string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Call sends in as JSON and decodes the envelope's data into out. Non-2xx
// responses come back as *APIError.
func (c *Client) Call(ctx context.Context, method, path string, in, out any) error {
	req := &Request{Method: method, Path: path}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Body = b
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, out)
}

// Login exchanges credentials for a session and stores its tokens.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return User{}, err
	}
	req := &Request{Method: http.MethodPost, Path: "/v1/auth/login", Body: body}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return User{}, err
	}
	var data sessionData
	if err := decodeEnvelope(resp, &data); err != nil {
		return User{}, err
	}
	c.mu.Lock()
	c.tokens.Set(Tokens{Access: data.AccessToken, Refresh: data.RefreshToken})
	c.mu.Unlock()
	return data.User, nil
}

// Logout revokes the refresh token server side and clears the store. The
// local session is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	current := c.tokens.Get()
	defer func() {
		c.mu.Lock()
		c.tokens.Clear()
		c.mu.Unlock()
	}()
	if current.Refresh == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"refreshToken": current.Refresh})
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, &Request{Method: http.MethodPost, Path: "/v1/auth/logout", Body: body}, current.Access)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, nil)
}

func decodeEnvelope(resp *http.Response, out any) error {
	defer drain(resp)
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw.Bytes(), &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("undecodable response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Message: env.Message, RequestID: env.RequestID}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
