// Package upstream is the client for the management server's JSON endpoints.
// The server owns folder placement, VM lifecycle and inventory; this package
// only moves requests and answers across the wire.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"vm-console/logging"
	"vm-console/metrics"
	"vm-console/tree"
)

// maxBody bounds how much of a response is read.
const maxBody = 16 << 20

// zapLogger implements the retryablehttp.LeveledLogger interface.
type zapLogger struct{}

func (zapLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.S().Errorw(msg, keysAndValues...)
}

func (zapLogger) Info(msg string, keysAndValues ...interface{}) {}

func (zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.S().Debugw(msg, keysAndValues...)
}

func (zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.S().Warnw(msg, keysAndValues...)
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration // 0 keeps the transport default
	RetryMax int
}

// Client talks to the management server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. Failed calls are only retried when RetryMax > 0.
func New(opts Options) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = zapLogger{}
	// Hand non-2xx answers back untouched; their bodies carry the error message.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: retryClient.StandardClient(),
	}
}

// do performs one call and decodes the answer into out when the server
// reports success.
func (c *Client) do(ctx context.Context, call, method, path string, body, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream(call, err, time.Since(start)) }()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", call, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", call, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Call: call, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &TransportError{Call: call, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &TransportError{Call: call, Err: fmt.Errorf("unexpected response (HTTP %d): %w", resp.StatusCode, err)}
	}

	logging.L().Debug("upstream call",
		zap.String("call", call),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("success", env.Success),
	)

	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return &ServerError{Call: call, Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Call: call, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// FetchTree returns the full sidebar payload.
func (c *Client) FetchTree(ctx context.Context) (*TreePayload, error) {
	var resp struct {
		Tree *TreeData `json:"tree"`
		HTML string    `json:"html"`
	}
	if err := c.do(ctx, "fetch tree", http.MethodGet, "/api/vm-tree?format=json", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Tree == nil && resp.HTML == "" {
		return nil, &TransportError{Call: "fetch tree", Err: errors.New("response has neither tree nor html")}
	}

	payload := &TreePayload{Data: resp.Tree, HTML: resp.HTML}
	if payload.Data == nil {
		// Markup only: recover the records so moves can still be checked locally.
		folders, vms, err := tree.ParseSidebar(resp.HTML)
		if err != nil {
			logging.L().Debug("sidebar markup not parsed", zap.Error(err))
		} else if len(folders) > 0 || len(vms) > 0 {
			payload.Data = &TreeData{Folders: folders, VMs: vms}
		}
	}
	return payload, nil
}

// MoveItem sets a VM's or folder's parent.
func (c *Client) MoveItem(ctx context.Context, req MoveRequest) error {
	return c.do(ctx, "move item", http.MethodPost, "/api/move-item", req, nil)
}

// CreateFolder creates a folder and returns its id when the server reports one.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	var resp struct {
		FolderID string `json:"folder_id"`
	}
	err := c.do(ctx, "create folder", http.MethodPost, "/api/folders", folderCreateRequest{Name: name, ParentID: parentID}, &resp)
	return resp.FolderID, err
}

// RenameFolder changes a folder's name.
func (c *Client) RenameFolder(ctx context.Context, folderID, name string) error {
	return c.do(ctx, "rename folder", http.MethodPut, "/api/folders/"+url.PathEscape(folderID), folderRenameRequest{Name: name}, nil)
}

// DeleteFolder removes a folder; the server moves its contents to its parent.
func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	return c.do(ctx, "delete folder", http.MethodDelete, "/api/folders/"+url.PathEscape(folderID), nil, nil)
}

// CreateVM starts a VM creation.
func (c *Client) CreateVM(ctx context.Context, req CreateVMRequest) (*CreateVMResult, error) {
	var resp CreateVMResult
	if err := c.do(ctx, "create vm", http.MethodPost, "/api/vm/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AvailableISOs lists installable images.
func (c *Client) AvailableISOs(ctx context.Context) ([]ISOImage, error) {
	var resp struct {
		ISOs []ISOImage `json:"isos"`
	}
	err := c.do(ctx, "available isos", http.MethodGet, "/api/vm/available-isos", nil, &resp)
	return resp.ISOs, err
}

// AvailableTemplates lists clonable templates.
func (c *Client) AvailableTemplates(ctx context.Context) ([]Template, error) {
	var resp struct {
		Templates []Template `json:"templates"`
	}
	err := c.do(ctx, "available templates", http.MethodGet, "/api/vm/available-templates", nil, &resp)
	return resp.Templates, err
}

// AvailableStorage lists target storages.
func (c *Client) AvailableStorage(ctx context.Context) ([]Storage, error) {
	var resp struct {
		Storage []Storage `json:"storage"`
	}
	err := c.do(ctx, "available storage", http.MethodGet, "/api/vm/available-storage", nil, &resp)
	return resp.Storage, err
}

// FindBestNode asks the server which node should host a new VM.
func (c *Client) FindBestNode(ctx context.Context) (*NodeInfo, error) {
	var resp struct {
		Node *NodeInfo `json:"node"`
	}
	if err := c.do(ctx, "find best node", http.MethodGet, "/api/vm/find-best-node", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil || resp.Node.Name == "" {
		return nil, &ServerError{Call: "find best node", Message: "No suitable node found"}
	}
	return resp.Node, nil
}
