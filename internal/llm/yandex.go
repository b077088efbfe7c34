package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Morwran/yagpt"
)

// YandexClient talks to YandexGPT Lite through yagpt. The IAM token is issued
// once at construction.
type YandexClient struct {
	api   yagpt.YaGPTFace
	token string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	if oauthToken == "" || folderID == "" {
		return nil, fmt.Errorf("yandex provider needs both an oauth token and a folder id")
	}
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("yandex iam: %w", err)
	}
	defer iam.Close()

	issued, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("yandex iam token: %w", err)
	}
	api, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("yandex completion client: %w", err)
	}
	return newYandexClient(api, issued.IamToken), nil
}

func newYandexClient(api yagpt.YaGPTFace, token string) *YandexClient {
	return &YandexClient{api: api, token: token}
}

// Generate forwards the conversation only. yagpt fixes temperature and the
// token limit itself, so MaxTokens and Temperature are dropped here.
func (c *YandexClient) Generate(ctx context.Context, req Request) (Response, error) {
	msgs := make([]yagpt.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = yagpt.Message{Role: m.Role, Content: m.Content}
	}

	out, err := c.api.CompletionWithCtx(ctx, c.token, msgs)
	if err != nil {
		return Response{}, fmt.Errorf("yandexgpt: %w", err)
	}
	if out == nil {
		return Response{}, ErrEmptyResponse
	}

	var text string
	for _, alt := range out.Alternatives {
		if strings.TrimSpace(alt.Message.Content) != "" {
			text = alt.Message.Content
			break
		}
	}
	if text == "" {
		return Response{}, ErrEmptyResponse
	}

	model := yagpt.YaModelLite
	if out.ModelVersion != "" {
		model += "/" + out.ModelVersion
	}
	return Response{
		Content:          text,
		Model:            model,
		PromptTokens:     int(out.Usage.InputTextTokens),
		CompletionTokens: int(out.Usage.CompletionTokens),
		TotalTokens:      int(out.Usage.TotalTokens),
	}, nil
}
