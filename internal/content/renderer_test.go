package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

func TestLiquidRenderer_Render(t *testing.T) {
	r := NewLiquidRenderer()
	c := domain.Content{
		Subject:   "Hi {{ name | default: \"there\" }}",
		HTML:      "<p>Your plan: {{ plan | capitalize }}</p>",
		Text:      "Sent to {{ email }} at {{ email | email_domain }}",
		FromEmail: "team@example.com",
	}

	out, err := r.Render(c, domain.Recipient{Email: "ann@example.org", Name: "Ann", Data: map[string]any{"plan": "PRO"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", out.Subject)
	assert.Equal(t, "<p>Your plan: Pro</p>", out.HTML)
	assert.Equal(t, "Sent to ann@example.org at example.org", out.Text)
	assert.Equal(t, "team@example.com", out.FromEmail)

	out, err = r.Render(c, domain.Recipient{Email: "bob@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out.Subject)
}

func TestLiquidRenderer_PlainTextUntouched(t *testing.T) {
	r := NewLiquidRenderer()
	c := domain.Content{Subject: "Plain", Text: "no markup"}
	out, err := r.Render(c, domain.Recipient{Email: "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, c, out)
}

func TestLiquidRenderer_ParseError(t *testing.T) {
	r := NewLiquidRenderer()
	_, err := r.Render(domain.Content{Subject: "{% if %}"}, domain.Recipient{Email: "a@b.co"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")

	assert.Error(t, r.Validate(domain.Content{HTML: "{% if true %}unclosed"}))
	assert.NoError(t, r.Validate(domain.Content{HTML: "{{ name }}"}))
}

func TestBindings_NameFromData(t *testing.T) {
	b := Bindings(domain.Recipient{Email: "a@b.co", Data: map[string]any{"name": "From Data"}})
	assert.Equal(t, "From Data", b["name"])
	assert.Equal(t, "a@b.co", b["email"])
}
