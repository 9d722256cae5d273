package describe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCompleter struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

func TestDescribeWithoutCompleterReturnsNotice(t *testing.T) {
	res := New(nil, nil).Describe(context.Background(), "Olla arrocera", "Electrodomésticos")

	assert.Equal(t, NoticeUnavailable, res.Description)
	assert.False(t, res.Generated)

	var nilDescriber *Describer
	assert.Equal(t, NoticeUnavailable, nilDescriber.Describe(context.Background(), "x", "").Description)
}

func TestDescribeReturnsTrimmedModelText(t *testing.T) {
	fake := &fakeCompleter{text: "  Cocina arroz perfecto en minutos.\n"}

	res := New(fake, zap.NewNop()).Describe(context.Background(), "Olla arrocera", "Electrodomésticos")

	assert.True(t, res.Generated)
	assert.Equal(t, "Cocina arroz perfecto en minutos.", res.Description)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], `"Olla arrocera"`)
	assert.Contains(t, fake.prompts[0], `"Electrodomésticos"`)
}

func TestDescribeFailureReturnsNotice(t *testing.T) {
	cases := []struct {
		name string
		fake *fakeCompleter
	}{
		{"model error", &fakeCompleter{err: errors.New("429 rate limited")}},
		{"blank output", &fakeCompleter{text: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := New(tc.fake, zap.NewNop()).Describe(context.Background(), "Café", "Alimentos")
			assert.Equal(t, NoticeFailed, res.Description)
			assert.False(t, res.Generated)
		})
	}
}

func TestPromptOmitsEmptyCategory(t *testing.T) {
	assert.NotContains(t, Prompt("Café molido", ""), "categoría")
	assert.Contains(t, Prompt("Café molido", "Alimentos"), "categoría")
}
