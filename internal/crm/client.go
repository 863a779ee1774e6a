package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	xerrors "github.com/afredojala/agent-demo/internal/errors"
)

// DefaultTimeout 是每次调用 CRM 的固定超时。
const DefaultTimeout = 10 * time.Second

// Client 封装对 CRM REST 接口的访问。任何非 2xx 响应都会返回
// COLLABORATOR_FAILURE 错误，调用方不做重试。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option 定义可选配置。
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout 设置单次请求超时。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient 创建 CRM 客户端。
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid crm base url %q", rawURL))
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SearchCustomers 按名称模糊查询客户；name 为空时返回全部客户。
func (c *Client) SearchCustomers(ctx context.Context, name string) ([]Customer, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var out []Customer
	if err := c.do(ctx, http.MethodGet, "/customers", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCustomers 返回全部客户。
func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	return c.SearchCustomers(ctx, "")
}

// CreateCustomer 新建客户记录。
func (c *Client) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/customers", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTickets 列出客户指定状态的工单，status 为空时不过滤。
func (c *Client) ListTickets(ctx context.Context, customerID, status string) ([]Ticket, error) {
	query := url.Values{"customer_id": {customerID}}
	if status != "" {
		query.Set("status", status)
	}
	var out []Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTicket 读取单个工单。
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var out Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTicket 对工单做部分更新。
func (c *Client) UpdateTicket(ctx context.Context, id string, patch TicketPatch) (*Ticket, error) {
	var out Ticket
	if err := c.do(ctx, http.MethodPatch, "/tickets/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateNote 在工单上追加备注。
func (c *Client) CreateNote(ctx context.Context, ticketID, body string) (*Note, error) {
	var out Note
	in := map[string]string{"ticket_id": ticketID, "body": body}
	if err := c.do(ctx, http.MethodPost, "/notes", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendEmail 通过 CRM 发送邮件，返回 CRM 的回执。
func (c *Client) SendEmail(ctx context.Context, email Email) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/emails", nil, email, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScheduleFollowup 创建跟进任务。
func (c *Client) ScheduleFollowup(ctx context.Context, f Followup) (*Followup, error) {
	var out Followup
	if err := c.do(ctx, http.MethodPost, "/followups", nil, f, &out); err != nil {
		return nil, err
	}
	if out.CustomerID == "" {
		out = f
	}
	return &out, nil
}

// Analytics 读取 /analytics/{kind}，kind 取 summary、revenue 或 support。
func (c *Client) Analytics(ctx context.Context, kind string) (map[string]any, error) {
	switch kind {
	case "summary", "revenue", "support":
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown analytics report %q", kind))
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/analytics/"+kind, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartWorkflow 在 CRM 中登记一次工作流运行。
func (c *Client) StartWorkflow(ctx context.Context, name string) (*WorkflowRecord, error) {
	var out WorkflowRecord
	if err := c.do(ctx, http.MethodPost, "/workflows", nil, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendWorkflowStep 为工作流运行追加一步记录。
func (c *Client) AppendWorkflowStep(ctx context.Context, workflowID string, step WorkflowStep) error {
	endpoint := "/workflows/" + url.PathEscape(workflowID) + "/steps"
	return c.do(ctx, http.MethodPost, endpoint, nil, step, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode crm request")
		}
		body = bytes.NewReader(encoded)
	}

	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, "create crm request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, fmt.Sprintf("%s %s", method, endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeCollaboratorFailure,
			fmt.Sprintf("%s %s returned %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data))),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
		)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return xerrors.Wrap(xerrors.CodeCollaboratorFailure, err, fmt.Sprintf("decode %s %s response", method, endpoint))
	}
	return nil
}
