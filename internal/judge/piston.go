package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Execution is the normalized outcome of one program run.
type Execution struct {
	CompileCode   int
	CompileStderr string
	RunCode       int
	Stdout        string
	Stderr        string
}

// VerdictSource runs code against a single stdin.
type VerdictSource interface {
	Execute(ctx context.Context, lang Language, code, stdin string) (*Execution, error)
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language       string       `json:"language"`
	Version        string       `json:"version"`
	Files          []pistonFile `json:"files"`
	Stdin          string       `json:"stdin"`
	RunTimeout     int64        `json:"run_timeout"`
	CompileTimeout int64        `json:"compile_timeout"`
}

type pistonStage struct {
	Code   *int   `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Signal string `json:"signal"`
}

type pistonResponse struct {
	Compile *pistonStage `json:"compile"`
	Run     *pistonStage `json:"run"`
	Message string       `json:"message"`
}

// PistonClient talks to a Piston /execute endpoint over fasthttp.
type PistonClient struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	runTimeout     time.Duration
	compileTimeout time.Duration
	retryMax       int
}

type Option func(*PistonClient)

func WithTimeout(d time.Duration) Option {
	return func(c *PistonClient) { c.defaultTimeout = d }
}

// WithLimits sets the sandbox run and compile limits sent with every request.
func WithLimits(run, compile time.Duration) Option {
	return func(c *PistonClient) {
		if run > 0 {
			c.runTimeout = run
		}
		if compile > 0 {
			c.compileTimeout = compile
		}
	}
}

func WithRetry(max int) Option {
	return func(c *PistonClient) { c.retryMax = max }
}

func NewPistonClient(baseURL string, opts ...Option) *PistonClient {
	c := &PistonClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 20 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 20 * time.Second,
		runTimeout:     3 * time.Second,
		compileTimeout: 10 * time.Second,
		retryMax:       2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PistonClient) Execute(ctx context.Context, lang Language, code, stdin string) (*Execution, error) {
	in := pistonRequest{
		Language:       lang.Runtime,
		Version:        lang.Version,
		Files:          []pistonFile{{Name: "main", Content: code}},
		Stdin:          stdin,
		RunTimeout:     c.runTimeout.Milliseconds(),
		CompileTimeout: c.compileTimeout.Milliseconds(),
	}
	var out pistonResponse
	if err := c.doJSON(ctx, "/execute", in, &out); err != nil {
		return nil, err
	}
	// A failed compile has no run stage.
	if out.Compile != nil && out.Compile.Code != nil && *out.Compile.Code != 0 {
		return &Execution{CompileCode: *out.Compile.Code, CompileStderr: out.Compile.Stderr}, nil
	}
	if out.Run == nil {
		msg := out.Message
		if msg == "" {
			msg = "missing run stage"
		}
		return nil, fmt.Errorf("piston: %s", msg)
	}
	ex := &Execution{Stdout: out.Run.Stdout, Stderr: out.Run.Stderr}
	if out.Run.Code != nil {
		ex.RunCode = *out.Run.Code
	} else if out.Run.Signal != "" {
		// killed by the sandbox (e.g. SIGKILL on timeout)
		ex.RunCode = 137
		if ex.Stderr == "" {
			ex.Stderr = "terminated by " + out.Run.Signal
		}
	}
	if out.Compile != nil {
		ex.CompileStderr = out.Compile.Stderr
	}
	return ex, nil
}

func (c *PistonClient) doJSON(ctx context.Context, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = fmt.Errorf("piston api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		if attempt < attempts {
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *PistonClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = max(1, min(attempt, 6))
	return time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
}

// Piston's public instance answers 429 when rate limited.
func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
