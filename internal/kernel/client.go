// Package kernel runs code on a Jupyter Enterprise Gateway kernel.
//
// Each Execute starts a fresh kernel, streams one execute_request over the
// kernel channels websocket, collects its output and deletes the kernel.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/mntdata/internal/log"
	"github.com/mattjoyce/mntdata/internal/protocol"
)

// ErrTimeout is returned when execution exceeds its deadline.
var ErrTimeout = errors.New("kernel execution timed out")

const (
	defaultTimeout     = 60 * time.Second
	defaultKernelName  = "python3"
	defaultUsername    = "code-interpreter"
	deleteKernelBudget = 5 * time.Second
)

// Config describes how to reach the gateway.
type Config struct {
	URL          string
	Token        string
	KernelName   string
	Username     string
	Timeout      time.Duration
	ReadyTimeout time.Duration
	// InitCode runs on every new kernel before the user code; its output is
	// discarded.
	InitCode string
}

// Output is what a kernel produced for one execution.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Result string `json:"result"`
	// Status is the execute_reply status: ok, error or aborted.
	Status   string `json:"status"`
	KernelID string `json:"-"`
}

// Client talks to one gateway.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for the REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("gateway url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url must be http or https, got %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	if cfg.KernelName == "" {
		cfg.KernelName = defaultKernelName
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		logger:     log.WithComponent("kernel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Timeout returns the default execution timeout.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// Ping checks that the gateway answers the kernelspecs endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "api/kernelspecs", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list kernelspecs: %s", resp.Status)
	}
	return nil
}

// Execute runs code on a new kernel. The caller's deadline, or the configured
// timeout when the caller has none, bounds the whole call; exceeding it
// returns ErrTimeout and no partial output.
func (c *Client) Execute(ctx context.Context, code string) (*Output, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	out, err := c.execute(ctx, code)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, code string) (*Output, error) {
	kernelID, err := c.startKernel(ctx)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("kernel_id", kernelID)
	logger.Debug("kernel started", "kernel_name", c.cfg.KernelName)
	defer c.deleteKernel(kernelID, logger)

	conn, err := c.dial(ctx, kernelID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock reads when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	session := uuid.New().String()

	if c.cfg.ReadyTimeout > 0 {
		if err := c.waitReady(conn, session); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(c.cfg.InitCode) != "" {
		initOut, err := c.run(conn, session, c.cfg.InitCode)
		if err != nil {
			return nil, fmt.Errorf("run kernel init code: %w", err)
		}
		if initOut.Status != "ok" {
			logger.Warn("kernel init code failed", "stderr", initOut.Stderr)
		}
	}

	out, err := c.run(conn, session, code)
	if err != nil {
		return nil, err
	}
	out.KernelID = kernelID
	logger.Debug("execution finished", "status", out.Status)
	return out, nil
}

func (c *Client) run(conn *websocket.Conn, session, code string) (*Output, error) {
	msgID := uuid.New().String()
	req, err := protocol.NewExecuteRequest(msgID, c.cfg.Username, session, code)
	if err != nil {
		return nil, err
	}
	data, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("send execute_request: %w", err)
	}

	var stdout, stderr strings.Builder
	var results []string

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read kernel message: %w", err)
		}
		msg, err := protocol.Unmarshal(raw)
		if err != nil {
			c.logger.Debug("ignoring undecodable kernel message", "error", err)
			continue
		}
		if msg.ParentID() != msgID {
			continue
		}

		switch msg.Type() {
		case protocol.TypeStream:
			var s protocol.Stream
			if err := msg.DecodeContent(&s); err != nil {
				return nil, err
			}
			switch s.Name {
			case "stdout":
				stdout.WriteString(s.Text)
			case "stderr":
				stderr.WriteString(s.Text)
			}

		case protocol.TypeExecuteResult, protocol.TypeDisplayData:
			var d protocol.DisplayData
			if err := msg.DecodeContent(&d); err != nil {
				return nil, err
			}
			if text, ok := d.Data["text/plain"].(string); ok {
				results = append(results, text)
			}
			if png, ok := d.Data["image/png"].(string); ok {
				results = append(results, "data:image/png;base64,"+png)
			}

		case protocol.TypeError:
			var e protocol.Error
			if err := msg.DecodeContent(&e); err != nil {
				return nil, err
			}
			stderr.WriteString(strings.Join(e.Traceback, "\n"))

		case protocol.TypeExecuteReply:
			var r protocol.ExecuteReply
			if err := msg.DecodeContent(&r); err != nil {
				return nil, err
			}
			return &Output{
				Stdout: strings.TrimSpace(stdout.String()),
				Stderr: strings.TrimSpace(stderr.String()),
				Result: strings.TrimSpace(strings.Join(results, "\n")),
				Status: r.Status,
			}, nil
		}
	}
}

// waitReady blocks until the kernel answers a kernel_info_request.
func (c *Client) waitReady(conn *websocket.Conn, session string) error {
	msgID := uuid.New().String()
	req, err := protocol.NewMessage(msgID, protocol.TypeKernelInfoRequest, c.cfg.Username, session, map[string]any{})
	if err != nil {
		return err
	}
	data, err := protocol.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send kernel_info_request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadyTimeout)); err != nil {
		return err
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kernel not ready: %w", err)
		}
		msg, err := protocol.Unmarshal(raw)
		if err != nil {
			continue
		}
		if msg.Type() == protocol.TypeKernelInfoReply && msg.ParentID() == msgID {
			return conn.SetReadDeadline(time.Time{})
		}
	}
}

type startKernelRequest struct {
	Name string            `json:"name"`
	Env  map[string]string `json:"env"`
}

type startKernelResponse struct {
	ID string `json:"id"`
}

func (c *Client) startKernel(ctx context.Context) (string, error) {
	body, err := json.Marshal(startKernelRequest{
		Name: c.cfg.KernelName,
		Env: map[string]string{
			"KERNEL_USERNAME": c.cfg.Username,
			"KERNEL_ID":       uuid.New().String(),
		},
	})
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "api/kernels", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start kernel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("start kernel: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var kr startKernelResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return "", fmt.Errorf("decode kernel response: %w", err)
	}
	if kr.ID == "" {
		return "", fmt.Errorf("start kernel: gateway returned no kernel id")
	}
	return kr.ID, nil
}

// deleteKernel runs with its own budget so cancelled executions still release
// the kernel.
func (c *Client) deleteKernel(kernelID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteKernelBudget)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, "api/kernels/"+url.PathEscape(kernelID), nil)
	if err != nil {
		logger.Warn("close kernel failed", "error", err)
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("close kernel failed", "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		logger.Warn("close kernel failed", "status", resp.Status)
		return
	}
	logger.Debug("kernel closed")
}

func (c *Client) dial(ctx context.Context, kernelID string) (*websocket.Conn, error) {
	wsURL := c.endpoint("api/kernels/" + url.PathEscape(kernelID) + "/channels")
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), c.authHeader())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect kernel channels: %w", err)
	}
	return conn, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path).String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.authHeader() {
		req.Header[k] = v
	}
	return req, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawPath = ""
	return &u
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "token "+c.cfg.Token)
	}
	return h
}
