// Package client is a small Go client for the VibeTune HTTP API, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"VibeTune/model"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one VibeTune server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. Generation requests can take minutes, so the default
// HTTP timeout is generous.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 6 * time.Minute},
	}
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// CreateSongInput is the body of a song creation.
type CreateSongInput struct {
	Title       string                `json:"title"`
	Description *string               `json:"description,omitempty"`
	UserID      string                `json:"user_id,omitempty"`
	Parameters  *model.SongParameters `json:"parameters,omitempty"`
}

// SubmitInput describes a recording to turn into a song.
type SubmitInput struct {
	VideoPath string
	UserText  string
	Title     string
	UserID    string
}

// GeneratedAudio is the result of a synchronous generation.
type GeneratedAudio struct {
	Data       []byte
	Filename   string
	Duration   float64
	SampleRate int
	Channels   int
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	var out authResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Token
	return out.User, nil
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// ListSongs lists songs newest first. An empty userID lists the caller's songs
// when authenticated, otherwise all songs.
func (c *Client) ListSongs(ctx context.Context, userID string) ([]*model.Song, error) {
	path := "/api/song"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var songs []*model.Song
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

// GetSong fetches one song.
func (c *Client) GetSong(ctx context.Context, id string) (*model.Song, error) {
	var song model.Song
	if err := c.doJSON(ctx, http.MethodGet, "/api/song/"+url.PathEscape(id), nil, &song); err != nil {
		return nil, err
	}
	return &song, nil
}

// CreateSong creates a song record in processing.
func (c *Client) CreateSong(ctx context.Context, in CreateSongInput) (*model.Song, error) {
	var song model.Song
	if err := c.doJSON(ctx, http.MethodPost, "/api/song", in, &song); err != nil {
		return nil, err
	}
	return &song, nil
}

// DeleteSong removes a song and its media.
func (c *Client) DeleteSong(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/song/"+url.PathEscape(id), nil, nil)
}

// Submit uploads a recording and returns the song while it is still processing.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (*model.Song, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"userText": in.UserText, "title": in.Title, "user_id": in.UserID}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if in.VideoPath != "" {
		if err := attachFile(mw, "video", in.VideoPath, "video/webm"); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/create", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var song model.Song
	if err := c.do(req, &song); err != nil {
		return nil, err
	}
	return &song, nil
}

// Generate runs text-to-music synchronously.
func (c *Client) Generate(ctx context.Context, prompt, negativeTags string) (*GeneratedAudio, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt, "negativeTags": negativeTags})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	out := &GeneratedAudio{Data: data}
	out.Duration, _ = strconv.ParseFloat(resp.Header.Get("X-Audio-Duration"), 64)
	out.SampleRate, _ = strconv.Atoi(resp.Header.Get("X-Audio-Sample-Rate"))
	out.Channels, _ = strconv.Atoi(resp.Header.Get("X-Audio-Channels"))
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		out.Filename = params["filename"]
	}
	return out, nil
}

// Download saves the object at fileURL to path.
func (c *Client) Download(ctx context.Context, fileURL, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("下载文件失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("下载文件失败，状态码: %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("创建文件失败: %w", err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("保存文件失败: %w", err)
	}
	return n, nil
}

func attachFile(mw *multipart.Writer, field, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
