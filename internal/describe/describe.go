// Package describe drafts short catalog descriptions with a language model.
// Generation is advisory: when the model is not configured or fails, callers
// get a fixed Spanish notice instead of an error so the product form keeps
// working.
package describe

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

const (
	NoticeUnavailable = "Función de IA no disponible. Configure la API_KEY."
	NoticeFailed      = "Hubo un error al generar la descripción."

	maxOutputTokens = 100
	temperature     = 0.7
)

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter(apiKey string, model string) *OpenAICompleter {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if strings.TrimSpace(model) == "" {
		model = string(shared.ChatModelGPT4oMini)
	}
	return &OpenAICompleter{client: &client, model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		MaxOutputTokens: param.NewOpt[int64](maxOutputTokens),
		Temperature:     param.NewOpt(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	return resp.OutputText(), nil
}

type Result struct {
	Description string `json:"description"`
	Generated   bool   `json:"generated"`
}

type Describer struct {
	completer Completer
	logger    *zap.Logger
}

// New returns a Describer. A nil completer disables generation.
func New(completer Completer, logger *zap.Logger) *Describer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Describer{completer: completer, logger: logger}
}

func (d *Describer) Enabled() bool {
	return d != nil && d.completer != nil
}

func (d *Describer) Describe(ctx context.Context, name string, category string) Result {
	if !d.Enabled() {
		return Result{Description: NoticeUnavailable}
	}

	text, err := d.completer.Complete(ctx, Prompt(name, category))
	if err != nil {
		d.logger.Warn("description generation failed",
			zap.String("product", name),
			zap.Error(err),
		)
		return Result{Description: NoticeFailed}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		d.logger.Warn("description generation returned no text", zap.String("product", name))
		return Result{Description: NoticeFailed}
	}
	return Result{Description: text, Generated: true}
}

func Prompt(name string, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escribe en español una descripción breve y atractiva para el producto %q", name)
	if category != "" {
		fmt.Fprintf(&b, " de la categoría %q", category)
	}
	b.WriteString(". Usa como máximo tres frases, destaca un beneficio clave y no uses markdown.")
	return b.String()
}
