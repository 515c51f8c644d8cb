package telegram

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/transport"
)

const defaultBaseURL = "https://api.telegram.org"

// Client delivers messages through the Telegram Bot API
type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient tgbotapi.HTTPClient
	noPreview  bool
	log        *zap.Logger
}

// Option configures a Client
type Option func(*options)

type options struct {
	baseURL    string
	httpClient tgbotapi.HTTPClient
	noPreview  bool
	log        *zap.Logger
}

// WithBaseURL points the client at a different Bot API server
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		if baseURL != "" {
			o.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		if httpClient != nil {
			o.httpClient = httpClient
		}
	}
}

// WithoutLinkPreview disables link previews on forwarded messages
func WithoutLinkPreview() Option {
	return func(o *options) {
		o.noPreview = true
	}
}

// WithLogger sets the logger used for responses that could not be decoded
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// NewClient creates a Bot API client. It calls getMe to verify the token.
func NewClient(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}

	o := options{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := &statusClient{inner: o.httpClient}
	bot, err := tgbotapi.NewBotAPIWithClient(token, o.baseURL+"/bot%s/%s", httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to verify bot token: %w", redact(err, token))
	}

	return &Client{
		bot:        bot,
		httpClient: o.httpClient,
		noPreview:  o.noPreview,
		log:        o.log,
	}, nil
}

// Send posts text to the target chat. targetID is either a numeric chat id or
// an @channel username.
func (c *Client) Send(ctx context.Context, targetID string, text string) error {
	if err := ctx.Err(); err != nil {
		return transport.NewRetryable(err, 0)
	}

	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(targetID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(targetID, text)
	}
	msg.DisableWebPagePreview = c.noPreview

	// Per-call copy so the request carries ctx
	sc := &statusClient{inner: c.httpClient, ctx: ctx}
	bot := *c.bot
	bot.Client = sc

	_, err := bot.Request(msg)
	if err == nil {
		return nil
	}
	return c.classify(err, sc.status)
}

func (c *Client) classify(err error, status int) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return &transport.Error{Kind: transport.Retryable, Err: redact(reqErr.err, c.bot.Token)}
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.code, 0, statusErr)
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.RetryAfter, fmt.Errorf("telegram: %d %s", apiErr.Code, apiErr.Message))
	}

	if status/100 != 2 {
		return classifyStatus(status, 0, fmt.Errorf("telegram: status %d: %w", status, err))
	}

	// Telegram answered 2xx but the body did not decode. The message is out.
	c.log.Warn("Undecodable Telegram response treated as delivered", zap.Error(redact(err, c.bot.Token)))
	return nil
}

func classifyStatus(code, retryAfter int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &transport.Error{
			Kind:       transport.Retryable,
			StatusCode: code,
			RetryAfter: time.Duration(retryAfter) * time.Second,
			Err:        err,
		}
	case code >= 500, code == 0:
		return &transport.Error{Kind: transport.Retryable, StatusCode: code, Err: err}
	default:
		return &transport.Error{Kind: transport.Fatal, StatusCode: code, Err: err}
	}
}

// statusClient separates failures that never reached Telegram and non-JSON
// error pages from Bot API replies before the library decodes the body.
type statusClient struct {
	inner  tgbotapi.HTTPClient
	ctx    context.Context
	status int
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d", e.code)
}

func (s *statusClient) Do(req *http.Request) (*http.Response, error) {
	if s.ctx != nil {
		req = req.WithContext(s.ctx)
	}
	res, err := s.inner.Do(req)
	if err != nil {
		return nil, &requestError{err: err}
	}
	s.status = res.StatusCode
	if res.StatusCode/100 != 2 && !isJSON(res.Header.Get("Content-Type")) {
		_ = res.Body.Close()
		return nil, &statusError{code: res.StatusCode}
	}
	return res, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// redact strips the bot token from errors that embed the request URL
func redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<token>"))
}
