package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"retail-integration/internal/config"
	"retail-integration/internal/util"
)

// Twilio error codes that change customer state.
const (
	TwilioUnsubscribed   = 21610
	TwilioNotMobile      = 21614
	TwilioUnreachable    = 30003
	TwilioUnknownHandset = 30005
	TwilioLandline       = 30006
)

type TwilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// TwilioCode extracts the vendor error code, or 0.
func TwilioCode(err error) int {
	var te *TwilioError
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}

// IsLandlineCode reports codes that mean the number cannot receive texts.
func IsLandlineCode(code int) bool {
	switch code {
	case TwilioNotMobile, TwilioUnreachable, TwilioUnknownHandset, TwilioLandline:
		return true
	}
	return false
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body, mediaURL string) (string, error)
}

type twilioClientImpl struct {
	http    *LimitedClient
	baseURL string
	sid     string
	token   string
	from    string
}

func NewTwilioClient(cfg *config.Twilio, logger *slog.Logger) SMSSender {
	return &twilioClientImpl{
		http:    NewLimitedClient(10, 10, 4, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sid:     cfg.AccountSID,
		token:   cfg.AuthToken,
		from:    cfg.FromNumber,
	}
}

func (c *twilioClientImpl) SendSMS(ctx context.Context, to, body, mediaURL string) (string, error) {
	dest := util.E164(to)
	if dest == "" {
		return "", fmt.Errorf("send sms to %q: %w", to, util.ErrInvalidPhone)
	}

	form := url.Values{}
	form.Set("To", dest)
	form.Set("From", c.from)
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.sid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.SetBasicAuth(c.sid, c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read twilio response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		te := &TwilioError{Status: resp.StatusCode}
		if json.Unmarshal(b, te) != nil || te.Code == 0 {
			return "", &StatusError{Code: resp.StatusCode, Body: string(b)}
		}
		return "", te
	}

	var res struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return "", fmt.Errorf("decode twilio response: %w", err)
	}
	return res.SID, nil
}

// TwilioSignature computes X-Twilio-Signature: base64 HMAC-SHA1 of the full
// URL followed by every POST parameter name and value in name order.
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
