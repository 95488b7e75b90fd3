package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client はnotifyhub用のHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はnotifyhubのベースURL。
	baseURL string
	// token はAuthorizationヘッダーに付けるJWT。空なら付けない。
	token string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithToken はリクエストにBearerトークンを付ける。
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout はリクエストのタイムアウトを変更する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New は新しいクライアントを生成する。
// baseURLにはnotifyhubのベースURL（例: "http://notifyhub:8080"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyRequest は1件の通知リクエスト。
type NotifyRequest struct {
	AppID       string         `json:"appId"`
	Users       []string       `json:"users,omitempty"`
	Devices     []string       `json:"devices,omitempty"`
	EventTopics []string       `json:"eventTopics,omitempty"`
	EventName   string         `json:"eventName,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// TargetFailure は配信先1件の失敗。
type TargetFailure struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Targets は配信先ごとの試行件数と結果。
type Targets struct {
	Users     int             `json:"users"`
	Devices   int             `json:"devices"`
	Topics    int             `json:"topics"`
	Delivered int             `json:"delivered"`
	Failures  []TargetFailure `json:"failures,omitempty"`
}

// NotifyResponse は /notify のレスポンス。
type NotifyResponse struct {
	Message string  `json:"message"`
	Targets Targets `json:"targets"`
}

// FieldError はリクエストの不正箇所1件。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BatchItem は一括通知の1件分の結果。
type BatchItem struct {
	Index   int          `json:"index"`
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Details []FieldError `json:"details,omitempty"`
	Targets *Targets     `json:"targets,omitempty"`
}

// BatchResponse は /batch-notify のレスポンス。
type BatchResponse struct {
	Message   string      `json:"message"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []BatchItem `json:"results"`
}

// Stats は /stats/:appId のレスポンス。
type Stats struct {
	AppID             string   `json:"appId"`
	ConnectedSessions int      `json:"connectedSessions"`
	Rooms             []string `json:"rooms"`
}

// APIError はnotifyhubが2xx以外のステータスを返したことを表す。
type APIError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int `json:"-"`
	// Message はレスポンスの error フィールド。
	Message string `json:"error"`
	// Details はスキーマ違反の詳細。
	Details []FieldError `json:"details,omitempty"`
}

// Error はエラーメッセージを返す。
func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("HTTPエラー: status=%d, error=%s", e.StatusCode, e.Message)
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return fmt.Sprintf("HTTPエラー: status=%d, error=%s (%s)", e.StatusCode, e.Message, strings.Join(parts, ", "))
}

// Notify は1件の通知を送る。
func (c *Client) Notify(ctx context.Context, req NotifyRequest) (*NotifyResponse, error) {
	var resp NotifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/notify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchNotify は複数の通知をまとめて送る。
// 個々の通知の失敗はエラーではなく BatchResponse に含まれる。
func (c *Client) BatchNotify(ctx context.Context, reqs []NotifyRequest) (*BatchResponse, error) {
	body := struct {
		Notifications []NotifyRequest `json:"notifications"`
	}{Notifications: reqs}

	var resp BatchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/batch-notify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats はネームスペースの接続数とルーム一覧を取得する。
func (c *Client) Stats(ctx context.Context, appID string) (*Stats, error) {
	var resp Stats
	if err := c.doJSON(ctx, http.MethodGet, "/stats/"+url.PathEscape(appID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health はnotifyhubが応答するかを確認する。
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		respBody, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
