// Package socketmap implements a Postfix socketmap/policy-delegation lookup
// service on top of sfnet: it supplies the framing, request routing, rate
// limiting, and upstream API client that plug into sfnet.Callbacks.
package socketmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// validLocalPartRegex validates that the local part only contains allowed characters: a-z, 0-9, -, _, .
var validLocalPartRegex = regexp.MustCompile(`^[a-z0-9\-_.]*$`)

// UserliService is the directory lookup collaborator every embedder handler
// delegates to.
type UserliService interface {
	GetAliases(ctx context.Context, email string) ([]string, error)
	GetDomain(ctx context.Context, domain string) (bool, error)
	GetMailbox(ctx context.Context, email string) (bool, error)
	GetSenders(ctx context.Context, email string) ([]string, error)
	GetQuota(ctx context.Context, email string) (*Quota, error)
}

// Quota represents the sending quota limits for a user.
type Quota struct {
	PerHour int `json:"per_hour"`
	PerDay  int `json:"per_day"`
}

// Userli is the HTTP-backed UserliService implementation.
type Userli struct {
	token     string
	baseURL   string
	delimiter string
	log       *zap.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	Client *http.Client
}

// Option configures a Userli client.
type Option func(*Userli)

func WithClient(client *http.Client) Option {
	return func(u *Userli) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.Client = client
	}
}

func WithDelimiter(delimiter string) Option {
	return func(u *Userli) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.delimiter = delimiter
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(u *Userli) {
		u.mu.Lock()
		defer u.mu.Unlock()

		var transport http.RoundTripper
		if u.Client != nil && u.Client.Transport != nil {
			transport = u.Client.Transport
		} else {
			transport = defaultTransport()
		}

		u.Client = &http.Client{Transport: transport, Timeout: timeout}
	}
}

func NewUserli(token, baseURL string, log *zap.Logger, metrics *Metrics, opts ...Option) *Userli {
	u := &Userli{token: token, baseURL: baseURL, log: log, metrics: metrics}
	for _, opt := range opts {
		opt(u)
	}
	if u.Client == nil {
		u.Client = &http.Client{Transport: defaultTransport(), Timeout: 10 * time.Second}
	}
	return u
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   30,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (u *Userli) GetAliases(ctx context.Context, email string) ([]string, error) {
	sanitized, err := u.sanitizeEmail(email)
	if err != nil {
		u.log.Info("unable to process the alias", zap.String("email", email), zap.Error(err))
		return []string{}, nil
	}

	resp, err := u.call(ctx, fmt.Sprintf("%s/api/postfix/alias/%s", u.baseURL, sanitized))
	if err != nil {
		return []string{}, err
	}
	defer resp.Body.Close()

	var aliases []string
	if err := json.NewDecoder(resp.Body).Decode(&aliases); err != nil {
		return []string{}, err
	}
	return aliases, nil
}

func (u *Userli) GetDomain(ctx context.Context, domain string) (bool, error) {
	resp, err := u.call(ctx, fmt.Sprintf("%s/api/postfix/domain/%s", u.baseURL, domain))
	if err != nil {
		u.log.Info("unable to process the domain", zap.String("domain", domain), zap.Error(err))
		return false, err
	}
	defer resp.Body.Close()

	var result bool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	return result, nil
}

func (u *Userli) GetMailbox(ctx context.Context, email string) (bool, error) {
	sanitized, err := u.sanitizeEmail(email)
	if err != nil {
		u.log.Info("unable to process the mailbox", zap.String("email", email), zap.Error(err))
		return false, nil
	}

	resp, err := u.call(ctx, fmt.Sprintf("%s/api/postfix/mailbox/%s", u.baseURL, sanitized))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var result bool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	return result, nil
}

func (u *Userli) GetSenders(ctx context.Context, email string) ([]string, error) {
	sanitized, err := u.sanitizeEmail(email)
	if err != nil {
		u.log.Info("unable to process the senders", zap.String("email", email), zap.Error(err))
		return []string{}, nil
	}

	resp, err := u.call(ctx, fmt.Sprintf("%s/api/postfix/senders/%s", u.baseURL, sanitized))
	if err != nil {
		return []string{}, err
	}
	defer resp.Body.Close()

	var senders []string
	if err := json.NewDecoder(resp.Body).Decode(&senders); err != nil {
		return []string{}, err
	}
	return senders, nil
}

func (u *Userli) GetQuota(ctx context.Context, email string) (*Quota, error) {
	sanitized, err := u.sanitizeEmail(email)
	if err != nil {
		u.log.Info("unable to process the quota", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	resp, err := u.call(ctx, fmt.Sprintf("%s/api/postfix/quota/%s", u.baseURL, sanitized))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var quota Quota
	if err := json.NewDecoder(resp.Body).Decode(&quota); err != nil {
		return nil, err
	}
	return &quota, nil
}

func (u *Userli) call(ctx context.Context, url string) (*http.Response, error) {
	start := time.Now()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", u.token))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sfnetd-socketmap")

	u.mu.RLock()
	client := u.Client
	u.mu.RUnlock()

	resp, err := client.Do(req)

	endpoint := "unknown"
	if parts := strings.Split(url, "/"); len(parts) >= 5 {
		endpoint = parts[len(parts)-2]
	}
	statusCode := "error"
	if resp != nil {
		statusCode = fmt.Sprintf("%d", resp.StatusCode)
	}
	if u.metrics != nil {
		u.metrics.httpClientDuration.WithLabelValues(endpoint, statusCode).Observe(time.Since(start).Seconds())
		u.metrics.httpClientRequestsTotal.WithLabelValues(endpoint, statusCode).Inc()
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (u *Userli) sanitizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	email = strings.TrimFunc(email, func(r rune) bool {
		return r < 33 || r == 127 ||
			r == 0x200B || r == 0x200C || r == 0x200D || r == 0xFEFF
	})

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid email format: %s", email)
	}

	localPart, domain := parts[0], parts[1]
	if u.delimiter != "" {
		if idx := strings.Index(localPart, u.delimiter); idx != -1 {
			localPart = localPart[:idx]
		}
	}

	if !validLocalPartRegex.MatchString(localPart) || localPart == "" {
		return "", fmt.Errorf("invalid local part: %s", localPart)
	}

	return fmt.Sprintf("%s@%s", localPart, domain), nil
}
