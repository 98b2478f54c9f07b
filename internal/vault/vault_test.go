package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Bindings{
		"*.example.com": {"user": "alice@example.com", "pass": "hunter2"},
		"bank.test":     {"pin": "4242"},
	})
	require.NoError(t, err)
	return v
}

func TestRedactIsDomainScoped(t *testing.T) {
	v := newTestVault(t)
	text := "login alice@example.com / hunter2 pin 4242"

	assert.Equal(t,
		"login <secret>user</secret> / <secret>pass</secret> pin 4242",
		v.Redact(text, "https://app.example.com/login"))
	assert.Equal(t,
		"login alice@example.com / hunter2 pin <secret>pin</secret>",
		v.Redact(text, "https://bank.test/"))
	assert.Equal(t,
		"login <secret>user</secret> / <secret>pass</secret> pin <secret>pin</secret>",
		v.RedactAll(text))
}

func TestUnredactOnlyOnMatchingOrigin(t *testing.T) {
	v := newTestVault(t)
	param := "<secret>user</secret>"

	assert.Equal(t, "alice@example.com", v.Unredact(param, "https://login.example.com/"))
	assert.Equal(t, param, v.Unredact(param, "https://evil.example/"), "placeholder must stay untouched off-domain")
	assert.Equal(t, "<secret>pin</secret>", v.Unredact("<secret>pin</secret>", "https://app.example.com/"))
	assert.Equal(t, "<secret>unknown</secret>", v.Unredact("<secret>unknown</secret>", "https://app.example.com/"))
}

func TestPlaceholders(t *testing.T) {
	v := newTestVault(t)
	assert.Equal(t, []string{"pass", "user"}, v.Placeholders("https://www.example.com/"))
	assert.Empty(t, v.Placeholders("https://other.test/"))
}

func TestLongestValueWins(t *testing.T) {
	v, err := New(Bindings{"*": {"short": "abc", "long": "abcdef"}})
	require.NoError(t, err)
	red := v.Redact("xabcdefx abc", "https://any.test/")
	assert.Equal(t, "x<secret>long</secret>x <secret>short</secret>", red)
	assert.Equal(t, "xabcdefx abc", v.Unredact(red, "https://any.test/"))
}

func TestNewRejectsInvalidBindings(t *testing.T) {
	_, err := New(Bindings{"*.example.com": {"bad name": "x"}})
	assert.Error(t, err)
	_, err = New(Bindings{"*.example.com": {"empty": ""}})
	assert.Error(t, err)
	_, err = New(Bindings{"*.com": {"user": "x"}})
	assert.Error(t, err)
}

func TestNilAndEmptyVault(t *testing.T) {
	var v *Vault
	assert.True(t, v.Empty())
	assert.Equal(t, "text", v.Redact("text", "https://a.test/"))
	assert.Equal(t, "text", v.RedactAll("text"))
	assert.Equal(t, "<secret>x</secret>", v.Unredact("<secret>x</secret>", "https://a.test/"))

	empty, err := New(nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestNewRejectsConflictingPlaceholderNames(t *testing.T) {
	_, err := New(Bindings{
		"a.example.com": {"password": "pA-secret"},
		"b.test":        {"password": "pB-secret"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"password"`)

	v, err := New(Bindings{
		"a.example.com": {"password": "shared"},
		"b.test":        {"password": "shared", "otp": "123456"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hint: shared", v.Unredact(v.RedactAll("hint: shared"), "https://a.example.com/login"))
}

func TestRedactAllNeverUnredactsIntoAnotherDomain(t *testing.T) {
	v, err := New(Bindings{
		"a.example.com": {"password": "pA-secret"},
		"b.test":        {"pin": "pB-secret"},
	})
	require.NoError(t, err)

	prompt := v.RedactAll("hint: pB-secret")
	assert.Equal(t, "hint: <secret>pin</secret>", prompt)
	assert.Equal(t, prompt, v.Unredact(prompt, "https://a.example.com/login"))
	assert.Equal(t, "hint: pB-secret", v.Unredact(prompt, "https://b.test/"))
}

// TestPropertyRedactRoundTrip checks unredact(redact(x)) == x for texts that do
// not already contain a registered placeholder token.
func TestPropertyRedactRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nameGen := rapid.StringMatching(`[a-z][a-z0-9_]{0,6}`)
		valueGen := rapid.StringN(1, 12, -1)

		secrets := rapid.MapOfN(nameGen, valueGen, 1, 5).Draw(rt, "secrets")
		v, err := New(Bindings{"*.example.com": secrets})
		require.NoError(rt, err)

		values := make([]string, 0, len(secrets))
		for _, val := range secrets {
			values = append(values, val)
		}
		pieces := rapid.SliceOfN(rapid.OneOf(
			rapid.String(),
			rapid.SampledFrom(values),
			rapid.Just("<secret>"),
		), 0, 8).Draw(rt, "pieces")
		text := strings.Join(pieces, "")

		for name := range secrets {
			if strings.Contains(text, Token(name)) {
				rt.Skip("text already contains a placeholder token")
			}
		}

		const origin = "https://app.example.com/"
		redacted := v.Redact(text, origin)
		require.Equal(rt, text, v.Unredact(redacted, origin))
	})
}
