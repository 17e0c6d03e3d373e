package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"retail-integration/internal/dto"

	"github.com/labstack/echo/v4"
)

const (
	HeaderShopifyHmac     = "X-Shopify-Hmac-Sha256"
	HeaderMarketingHmac   = "X-Signature-Sha256"
	HeaderTwilioSignature = "X-Twilio-Signature"

	// RawBodyKey holds the verified request body in the echo context.
	RawBodyKey = "raw_body"
)

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "Unauthorized"})
}

// readBody drains the request body, stores it under RawBodyKey and puts a
// fresh reader back so later binders still see it.
func readBody(c echo.Context) ([]byte, error) {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	c.Set(RawBodyKey, body)
	return body, nil
}

// RawBody returns the body stored by one of the signature middlewares.
func RawBody(c echo.Context) []byte {
	b, _ := c.Get(RawBodyKey).([]byte)
	return b
}

func sign(h func() hash.Hash, secret string, data []byte) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// bodyHMAC checks a base64 HMAC-SHA256 of the raw body carried in header.
func bodyHMAC(header, secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(header)
			if got == "" || secret == "" {
				return unauthorized(c)
			}
			body, err := readBody(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
			}
			if !equal(sign(sha256.New, secret, body), got) {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

// ShopifyHMAC verifies storefront webhooks.
func ShopifyHMAC(secret string) echo.MiddlewareFunc {
	return bodyHMAC(HeaderShopifyHmac, secret)
}

// MarketingHMAC verifies posts from the marketing site.
func MarketingHMAC(secret string) echo.MiddlewareFunc {
	return bodyHMAC(HeaderMarketingHmac, secret)
}

// TwilioSignature verifies a messaging webhook: base64 HMAC-SHA1 over the
// public URL followed by every form key and value, keys sorted. When
// publicURL is empty the URL is rebuilt from the request.
func TwilioSignature(authToken, publicURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(HeaderTwilioSignature)
			if got == "" || authToken == "" {
				return unauthorized(c)
			}
			body, err := readBody(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return unauthorized(c)
			}

			u := publicURL
			if u == "" {
				u = c.Scheme() + "://" + c.Request().Host + c.Request().RequestURI
			}
			if !equal(TwilioSign(authToken, u, form), got) {
				return unauthorized(c)
			}
			return next(c)
		}
	}
}

// TwilioSign computes the X-Twilio-Signature value for a form post to u.
func TwilioSign(authToken, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return sign(sha1.New, authToken, []byte(b.String()))
}

// SignBody computes the base64 HMAC-SHA256 header value for body.
func SignBody(secret string, body []byte) string {
	return sign(sha256.New, secret, body)
}
