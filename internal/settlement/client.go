package settlement

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	xerrors "SwapPilot/internal/errors"
)

// Client 调用 CoW 风格的结算协议 REST 接口。
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// ClientOption 定义可选配置。
type ClientOption func(*Client)

// WithRateLimit 限制每秒发出的请求数。
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient 替换底层 http.Client，主要用于测试。
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http.SetTransport(hc.Transport)
		}
	}
}

// NewClient 创建 Client。timeout 作用于每一次请求。
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "未配置结算协议地址")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseURL)
	httpClient.SetTimeout(timeout)
	httpClient.SetHeader("Accept", "application/json")
	httpClient.JSONMarshal = json.Marshal
	httpClient.JSONUnmarshal = json.Unmarshal

	client := &Client{http: httpClient}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Quote 请求卖出方向的报价。
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Kind == "" {
		req.Kind = KindSell
	}
	body, err := c.post(ctx, "/api/v1/quote", req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuoteFailed, err, "报价请求失败")
	}
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuoteFailed, err, "解析报价响应失败")
	}
	quote := resp.Quote
	if quote.BuyAmount == "" || quote.SellAmount == "" {
		return nil, xerrors.New(xerrors.CodeQuoteFailed, "报价响应缺少数量字段")
	}
	quote.ID = resp.ID
	return &quote, nil
}

// Submit 提交已签名订单并返回订单 UID。
func (c *Client) Submit(ctx context.Context, order SignedOrder) (string, error) {
	body, err := c.post(ctx, "/api/v1/orders", order)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSubmissionFailed, err, "提交订单失败")
	}
	var uid string
	if err := json.Unmarshal(body, &uid); err != nil {
		return "", xerrors.Wrap(xerrors.CodeSubmissionFailed, err, "解析订单 UID 失败")
	}
	if uid == "" {
		return "", xerrors.New(xerrors.CodeSubmissionFailed, "结算协议返回了空的订单 UID")
	}
	return uid, nil
}

// Status 查询订单状态。
func (c *Client) Status(ctx context.Context, uid string) (*OrderStatus, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "订单 UID 不能为空")
	}
	if err := c.wait(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStatusPollFailed, err, "等待限流失败")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/v1/orders/" + url.PathEscape(uid))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStatusPollFailed, err, "查询订单状态失败")
	}
	if resp.IsError() {
		return nil, xerrors.Wrap(xerrors.CodeStatusPollFailed, newAPIError(resp), "查询订单状态失败",
			xerrors.WithMetadata("uid", uid))
	}
	var status OrderStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStatusPollFailed, err, "解析订单状态失败")
	}
	if status.UID == "" {
		status.UID = uid
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, newAPIError(resp)
	}
	return resp.Body(), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// APIError 描述结算协议返回的非 2xx 响应。
type APIError struct {
	StatusCode  int
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("settlement api %d %s: %s", e.StatusCode, e.ErrorType, e.Description)
	}
	return fmt.Sprintf("settlement api %d: %s", e.StatusCode, e.Description)
}

func newAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || (apiErr.ErrorType == "" && apiErr.Description == "") {
		apiErr.Description = strings.TrimSpace(resp.String())
	}
	return apiErr
}

var _ API = (*Client)(nil)
