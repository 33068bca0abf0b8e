package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRequestTimeout = 10 * time.Second
	// Captions above this length are rejected by the platform; such messages go out as text.
	maxCaptionLength = 1024
)

type apiMessageRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *apiText     `json:"text,omitempty"`
	Image            *apiImage    `json:"image,omitempty"`
	Template         *apiTemplate `json:"template,omitempty"`
}

type apiText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type apiImage struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type apiTemplate struct {
	Name       string                 `json:"name"`
	Language   apiLanguage            `json:"language"`
	Components []apiTemplateComponent `json:"components,omitempty"`
}

type apiLanguage struct {
	Code string `json:"code"`
}

type apiTemplateComponent struct {
	Type       string                 `json:"type"`
	Parameters []apiTemplateParameter `json:"parameters"`
}

type apiTemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// WhatsAppClient sends messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	client   *resty.Client
	endpoint string
}

var _ Sender = (*WhatsAppClient)(nil)

func NewWhatsAppClient(baseURL string, phoneNumberID string, accessToken string) (*WhatsAppClient, error) {
	client := resty.New()
	client.SetTimeout(defaultRequestTimeout)

	return NewWhatsAppClientWithClient(baseURL, phoneNumberID, accessToken, client)
}

func NewWhatsAppClientWithClient(baseURL string, phoneNumberID string, accessToken string, client *resty.Client) (*WhatsAppClient, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("messaging api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedBase); err != nil {
		return nil, fmt.Errorf("invalid messaging api url: %w", err)
	}
	if strings.TrimSpace(phoneNumberID) == "" {
		return nil, fmt.Errorf("phone number id is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRequestTimeout)
	}
	// Retries are owned by RetryingSender so that classification happens in one place.
	client.SetRetryCount(0)
	if token := strings.TrimSpace(accessToken); token != "" {
		client.SetAuthToken(token)
	}

	return &WhatsAppClient{
		client:   client,
		endpoint: fmt.Sprintf("%s/%s/messages", trimmedBase, url.PathEscape(strings.TrimSpace(phoneNumberID))),
	}, nil
}

func (c *WhatsAppClient) SendFreeform(ctx context.Context, msg FreeformMessage) (*SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, &ProviderError{Message: "message body is required"}
	}

	req := apiMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
	}

	mediaURL := firstNonEmpty(msg.MediaURLs)
	if mediaURL != "" && len([]rune(msg.Body)) <= maxCaptionLength {
		req.Type = "image"
		req.Image = &apiImage{Link: mediaURL, Caption: msg.Body}
	} else {
		req.Type = "text"
		req.Text = &apiText{PreviewURL: true, Body: msg.Body}
	}

	return c.post(ctx, req)
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, &ProviderError{Message: "recipient is required"}
	}
	if strings.TrimSpace(msg.Name) == "" {
		return nil, &ProviderError{Message: "template name is required"}
	}

	template := &apiTemplate{
		Name:     msg.Name,
		Language: apiLanguage{Code: defaultString(msg.Language, "en")},
	}
	if len(msg.Params) > 0 {
		params := make([]apiTemplateParameter, 0, len(msg.Params))
		for _, p := range msg.Params {
			params = append(params, apiTemplateParameter{Type: "text", Text: p})
		}
		template.Components = []apiTemplateComponent{{Type: "body", Parameters: params}}
	}

	return c.post(ctx, apiMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "template",
		Template:         template,
	})
}

func (c *WhatsAppClient) post(ctx context.Context, body apiMessageRequest) (*SendResult, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("messaging client is not initialized")
	}

	var result apiMessageResponse
	var apiErr apiErrorResponse

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post(c.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "messaging request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "messaging api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if len(result.Messages) == 0 || strings.TrimSpace(result.Messages[0].ID) == "" {
			return nil, &ProviderError{
				StatusCode: statusCode,
				Message:    "messaging api response has no message id",
				Transient:  true,
			}
		}
		return &SendResult{
			StatusCode: statusCode,
			MessageID:  result.Messages[0].ID,
		}, nil
	}

	message := strings.TrimSpace(apiErr.Error.Message)
	if message == "" {
		message = strings.TrimSpace(response.String())
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       apiErr.Error.Code,
		Message:    errorMessage(statusCode, message),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("messaging api returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func defaultString(v string, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}
