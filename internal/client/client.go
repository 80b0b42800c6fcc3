// Package client はPinShare APIのHTTPクライアントを提供する。
// セッションCookieをCookieJarで保持し、状態変更リクエストの前にCSRFトークンを取得する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pinshare/internal/model"
)

const (
	// csrfHeader はCSRFトークンを送信するヘッダー名。
	csrfHeader = "X-CSRF-Token"
	// userAgent はリクエストに付与するUser-Agent。
	userAgent = "PinShare-Client/1.0"
	// maxRawSize はRaw取得時に読み込む最大バイト数。
	maxRawSize = 1 << 20
)

// User はAPIが返すユーザー情報。
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	IsVerified bool      `json:"is_verified"`
	IsBanned   bool      `json:"is_banned"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pin はAPIが返すピン情報。
type Pin struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	AuthorID       int64     `json:"author_id"`
	Author         string    `json:"author"`
	AuthorVerified bool      `json:"author_verified"`
	CreatedAt      time.Time `json:"created_at"`
	Views          int       `json:"views"`
	Reports        int       `json:"reports"`
	IsPrivate      bool      `json:"is_private"`
	Tags           []string  `json:"tags"`
	IsFavorite     bool      `json:"is_favorite"`
}

// Comment はAPIが返すコメント情報。
type Comment struct {
	ID             int64     `json:"id"`
	PinID          int64     `json:"pin_id"`
	AuthorID       int64     `json:"author_id"`
	Author         string    `json:"author"`
	AuthorVerified bool      `json:"author_verified"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// errorBody はAPIのエラーレスポンス。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Client はPinShare APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    *url.URL

	mu   sync.Mutex
	csrf string
}

// New はClientを生成する。httpClientにCookieJarが無い場合は新たに設定する。
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("サーバーURLのパースに失敗しました: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("サーバーURLのスキームが不正です: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("CookieJarの作成に失敗しました: %w", err)
		}
		c := *httpClient
		c.Jar = jar
		httpClient = &c
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{httpClient: httpClient, logger: logger, baseURL: u}, nil
}

// Login はユーザー名とパスワードでログインし、セッションCookieを保持する。
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var u User
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Pins はピン一覧を取得する。search、sortが空の場合はサーバーの既定値を使う。
func (c *Client) Pins(ctx context.Context, search, sort string) ([]Pin, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	var pins []Pin
	if err := c.do(ctx, http.MethodGet, "/api/pins", q, nil, &pins); err != nil {
		return nil, err
	}
	return pins, nil
}

// Favorites はログインユーザーのお気に入りピンを取得する。
func (c *Client) Favorites(ctx context.Context) ([]Pin, error) {
	var pins []Pin
	if err := c.do(ctx, http.MethodGet, "/api/favorites", nil, nil, &pins); err != nil {
		return nil, err
	}
	return pins, nil
}

// Comments はピンの表示可能なコメントを取得する。
func (c *Client) Comments(ctx context.Context, pinID int64) ([]Comment, error) {
	var comments []Comment
	if err := c.do(ctx, http.MethodGet, pinPath(pinID, "comments"), nil, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// CreateComment はピンにコメントを投稿する。
func (c *Client) CreateComment(ctx context.Context, pinID int64, content string) (*Comment, error) {
	var comment Comment
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, pinPath(pinID, "comments"), nil, body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// SetFavorite はお気に入り状態を指定値に設定する。
func (c *Client) SetFavorite(ctx context.Context, pinID int64, favorite bool) error {
	body := map[string]bool{"favorite": favorite}
	return c.do(ctx, http.MethodPut, pinPath(pinID, "favorite"), nil, body, nil)
}

// Raw はピン本文をプレーンテキストで取得する。
// 存在しないピンの場合はNOT_FOUNDエラーを返す。
func (c *Client) Raw(ctx context.Context, pinID int64) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/raw/"+strconv.FormatInt(pinID, 10), nil, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Rawの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRawSize))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return string(body), nil
	case http.StatusNotFound:
		return "", model.NewNotFoundError("pin")
	default:
		return "", fmt.Errorf("Rawがステータス %d を返しました", resp.StatusCode)
	}
}

// do はJSONリクエストを送信し、レスポンスをoutにデコードする。
// GET以外のリクエストにはCSRFトークンを付与する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		body = b
	}

	if method != http.MethodGet && !strings.HasPrefix(path, "/auth/") {
		if err := c.ensureCSRFToken(ctx); err != nil {
			return err
		}
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.csrf != "" {
		req.Header.Set(csrfHeader, c.csrf)
	}
	c.mu.Unlock()
	return req, nil
}

// ensureCSRFToken はCSRFトークンが未取得の場合に取得する。
// トークンはCookieと対になるため、CookieJarに保存された値と同じものが返る。
func (c *Client) ensureCSRFToken(ctx context.Context) error {
	c.mu.Lock()
	have := c.csrf != ""
	c.mu.Unlock()
	if have {
		return nil
	}

	var tok struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf-token", nil, nil, &tok); err != nil {
		return fmt.Errorf("CSRFトークンの取得に失敗しました: %w", err)
	}
	c.mu.Lock()
	c.csrf = tok.Token
	c.mu.Unlock()
	return nil
}

// decodeError はエラーレスポンスをmodel.APIErrorに変換する。
// errors.Isでmodelの定義済みエラーと比較できる。
func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Code == "" {
		return fmt.Errorf("APIがステータス %d を返しました", resp.StatusCode)
	}
	return &model.APIError{
		Code:     body.Code,
		Message:  body.Message,
		Category: body.Category,
		Action:   body.Action,
	}
}

func pinPath(pinID int64, suffix string) string {
	return "/api/pins/" + strconv.FormatInt(pinID, 10) + "/" + suffix
}
