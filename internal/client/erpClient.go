package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"retail-integration/internal/apperr"
	"retail-integration/internal/config"
	"retail-integration/internal/model"
)

// DocumentPoster submits a document to the ERP and returns its doc_id.
type DocumentPoster interface {
	PostDocument(ctx context.Context, payload *model.DocumentPayload) (string, error)
}

type erpClientImpl struct {
	http    *LimitedClient
	baseURL string
	apiKey  string
	auth    string
}

type documentResponse struct {
	ErrorCode string `json:"ErrorCode"`
	Message   string `json:"Message"`
	Documents []struct {
		DocID json.Number `json:"DOC_ID"`
	} `json:"Documents"`
}

func NewERPClient(cfg *config.ERP, logger *slog.Logger) DocumentPoster {
	creds := fmt.Sprintf("%s.%s:%s", cfg.Company, cfg.User, cfg.Password)
	return &erpClientImpl{
		http:    NewLimitedClient(4, 4, 2, logger),
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)),
	}
}

func (c *erpClientImpl) PostDocument(ctx context.Context, payload *model.DocumentPayload) (string, error) {
	header := http.Header{}
	header.Set("APIKey", c.apiKey)
	header.Set("Authorization", c.auth)

	var res documentResponse
	if err := c.http.JSON(ctx, http.MethodPost, c.baseURL+"/Document", header, payload, &res); err != nil {
		return "", fmt.Errorf("post document: %w: %w", apperr.ErrPostingFailed, err)
	}

	if res.ErrorCode != "SUCCESS" {
		return "", fmt.Errorf("post document: %s %s: %w", res.ErrorCode, res.Message, apperr.ErrPostingFailed)
	}
	if len(res.Documents) == 0 || res.Documents[0].DocID == "" {
		return "", fmt.Errorf("post document: no doc_id in response: %w", apperr.ErrPostingFailed)
	}

	return res.Documents[0].DocID.String(), nil
}
