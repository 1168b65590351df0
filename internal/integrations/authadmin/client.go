package authadmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/pkg/errors"
)

// Client creates users through the hosted auth admin API (/auth/v1/admin/users).
// It needs the service role key.
type Client struct {
	baseURL    string
	serviceKey string
	httpc      *http.Client
}

func New(baseURL, serviceKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:54321"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createUserReq struct {
	Email        string            `json:"email"`
	Password     string            `json:"password"`
	EmailConfirm bool              `json:"email_confirm"`
	UserMetadata map[string]string `json:"user_metadata"`
	AppMetadata  map[string]string `json:"app_metadata"`
}

type userResp struct {
	ID string `json:"id"`
}

type errResp struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errResp) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) CreateUser(ctx context.Context, in models.UserCreate) (string, error) {
	role := in.Role
	if role == "" {
		role = models.RoleDriver
	}
	body, err := json.Marshal(createUserReq{
		Email:        in.Email,
		Password:     in.Password,
		EmailConfirm: true,
		UserMetadata: map[string]string{"full_name": in.FullName, "phone": in.Phone},
		AppMetadata:  map[string]string{"role": role},
	})
	if err != nil {
		return "", errors.Wrap(err, "encode body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/admin/users", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	if resp.StatusCode/100 != 2 {
		var er errResp
		if json.Unmarshal(raw, &er) == nil && er.text() != "" {
			return "", errors.New(er.text())
		}
		return "", fmt.Errorf("auth admin http %d", resp.StatusCode)
	}

	var u userResp
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	if u.ID == "" {
		return "", errors.New("auth admin returned no user id")
	}
	return u.ID, nil
}
