package logiless

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
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
)

const (
	DefaultBaseURL  = "https://app2.logiless.com"
	DefaultTokenURL = "https://app2.logiless.com/api/oauth2/token"
	DefaultPattern  = `(?i)#?yeni-(\d+)`
)

// Summaries shown to operators when the lookup does not produce order data
const (
	TokenErrorSummary   = "ロジレス認証トークンの取得に失敗しました。"
	AuthErrorSummary    = "ロジレスAPIへのアクセス権限がないか、トークンが無効です。"
	RequestErrorSummary = "ロジレス情報の取得に失敗しました。"
	notFoundSummaryFmt  = "注文番号 %s はロジレスで見つかりませんでした。"
	unknownValue        = "不明"
	noItemsSummary      = "商品情報なし"
)

const (
	maxErrorBodyLength    = 200
	defaultRequestsPerSec = 2
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	BaseURL      string
	MerchantID   string
	OrderPattern string

	// HTTPClient is the base transport for token and API requests
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client looks up orders in the Logiless merchant API
type Client struct {
	http       *http.Client
	baseURL    string
	merchantID string
	pattern    *regexp.Regexp
	limiter    *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("%w: logiless client credentials and refresh token are required", domain.ErrConfiguration)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.OrderPattern == "" {
		cfg.OrderPattern = DefaultPattern
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSec
	}

	pattern, err := regexp.Compile(cfg.OrderPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid order number pattern: %w", domain.ErrConfiguration, err)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// the token source refreshes through the base client; the access token
	// is cached until it expires
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	return &Client{
		http:       oauth2.NewClient(ctx, source),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		pattern:    pattern,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

var defaultPattern = regexp.MustCompile(DefaultPattern)

// ExtractOrderNumber returns the first order number in text without the
// leading '#', or "" when there is none
func ExtractOrderNumber(text string) string {
	number, _ := extract(defaultPattern, text)
	return number
}

func extract(pattern *regexp.Regexp, text string) (number, id string) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", ""
	}
	number = strings.TrimPrefix(m[0], "#")
	if len(m) > 1 {
		id = m[1]
	}
	return number, id
}

type orderItem struct {
	Name     string      `json:"name"`
	Quantity json.Number `json:"quantity"`
}

type orderData struct {
	Code       string      `json:"code"`
	OrderDate  string      `json:"order_date"`
	Status     string      `json:"status"`
	DetailsURL string      `json:"details_url"`
	Items      []orderItem `json:"items"`
}

func (o orderData) summary() string {
	items := noItemsSummary
	if len(o.Items) > 0 {
		parts := make([]string, len(o.Items))
		for i, item := range o.Items {
			parts[i] = fmt.Sprintf("%s(%s)", item.Name, item.Quantity)
		}
		items = strings.Join(parts, ", ")
	}
	return fmt.Sprintf("注文日: %s, 商品: %s, ステータス: %s",
		orDefault(o.OrderDate, unknownValue), items, orDefault(o.Status, unknownValue))
}

// FindOrder looks up the order named in text. It returns nil, nil when text
// names no order. A missing order is not an error. On failure the returned
// info carries the order number and, when known, an operator-facing summary.
func (c *Client) FindOrder(ctx context.Context, text string) (*domain.OrderInfo, error) {
	number, id := extract(c.pattern, text)
	if number == "" {
		metrics.OrderLookups.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	info := &domain.OrderInfo{OrderNumber: number, OrderID: id}
	logger := slog.With("order_number", number)

	order, err := c.fetchOrder(ctx, number)
	if err != nil {
		var apiErr *apiError
		var tokenErr *oauth2.RetrieveError
		switch {
		case errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound:
			metrics.OrderLookups.WithLabelValues("not_found").Inc()
			info.Summary = fmt.Sprintf(notFoundSummaryFmt, number)
			logger.Info("Order not found in Logiless")
			return info, nil
		case errors.As(err, &apiErr) && (apiErr.status == http.StatusUnauthorized || apiErr.status == http.StatusForbidden):
			info.Summary = AuthErrorSummary
		case errors.As(err, &apiErr):
			info.Summary = RequestErrorSummary
		case errors.As(err, &tokenErr):
			info.Summary = TokenErrorSummary
		}
		metrics.OrderLookups.WithLabelValues("error").Inc()
		return info, err
	}

	if order == nil {
		metrics.OrderLookups.WithLabelValues("not_found").Inc()
		info.Summary = fmt.Sprintf(notFoundSummaryFmt, number)
		logger.Info("Order not present in Logiless response")
		return info, nil
	}

	info.Found = true
	info.Summary = order.summary()
	info.URL = order.DetailsURL
	if info.URL == "" && c.merchantID != "" && id != "" {
		info.URL = fmt.Sprintf("%s/merchant/%s/sales_orders/%s", c.baseURL, c.merchantID, id)
	}

	metrics.OrderLookups.WithLabelValues("found").Inc()
	logger.Info("Order found in Logiless", "status", order.Status)
	return info, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("logiless api returned %d: %s", e.status, e.body)
}

// fetchOrder returns nil when the response holds no order with the given code
func (c *Client) fetchOrder(ctx context.Context, number string) (*orderData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("logiless rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/merchant/orders?code=%s", c.baseURL, url.QueryEscape(number))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build logiless request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logiless request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logiless response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(body)
		if len(text) > maxErrorBodyLength {
			text = text[:maxErrorBodyLength]
		}
		return nil, &apiError{status: resp.StatusCode, body: text}
	}

	return decodeOrder(body, number)
}

// decodeOrder accepts either a list of orders or a single order object
func decodeOrder(body []byte, number string) (*orderData, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var orders []orderData
		if err := json.Unmarshal(body, &orders); err != nil {
			return nil, fmt.Errorf("failed to decode logiless orders: %w", err)
		}
		for i := range orders {
			if orders[i].Code == number {
				return &orders[i], nil
			}
		}
		return nil, nil
	}

	var order orderData
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to decode logiless order: %w", err)
	}
	return &order, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
