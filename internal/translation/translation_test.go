package translation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type call struct {
	text, source, target string
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []call
	fn    func(text, source, target string) (string, error)
}

func (f *fakeBackend) Translate(_ context.Context, text, source, target string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{text, source, target})
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(text, source, target)
	}
	return "[" + target + "] " + text, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func mustNew(t *testing.T, b Translator, opts ...Option) *Service {
	t.Helper()
	s, err := New(b, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		"HI":    "hi",
		"hi-IN": "hi",
		"ne_NP": "ne",
		" en ":  "en",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		require.NoError(t, err, "tag=%q", in)
		require.Equal(t, want, got, "tag=%q", in)
	}

	_, err := Normalize("")
	require.Error(t, err)
	_, err = Normalize("not a tag!")
	require.Error(t, err)
}

func TestIsWorking(t *testing.T) {
	require.True(t, IsWorking("en"))
	require.True(t, IsWorking("en-US"))
	require.False(t, IsWorking("hi"))
	require.False(t, IsWorking(""))
}

func TestTranslate_WorkingLanguageIsIdentity(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b)

	out, err := s.Translate(context.Background(), "hello", "en")
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Zero(t, b.callCount())
}

func TestTranslate_EmptyTextIsIdentity(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b)

	for _, text := range []string{"", "   ", "\n\t"} {
		out, err := s.Translate(context.Background(), text, "hi")
		require.NoError(t, err)
		require.Equal(t, text, out)
	}
	require.Zero(t, b.callCount())
}

func TestTranslateFrom_SameLanguageAfterNormalization(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b)

	out, err := s.TranslateFrom(context.Background(), "नमस्ते", "hi-IN", "hi")
	require.NoError(t, err)
	require.Equal(t, "नमस्ते", out)
	require.Zero(t, b.callCount())
}

func TestTranslateFrom_CallsBackendOnce(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b)

	out, err := s.TranslateFrom(context.Background(), "नमस्ते", "hi", "en")
	require.NoError(t, err)
	require.Equal(t, "[en] नमस्ते", out)
	require.Equal(t, []call{{"नमस्ते", "hi", "en"}}, b.calls)
}

func TestTranslate_BackendErrorIsFailure(t *testing.T) {
	b := &fakeBackend{fn: func(string, string, string) (string, error) {
		return "", errors.New("model unavailable")
	}}
	s := mustNew(t, b)

	_, err := s.Translate(context.Background(), "hello", "hi")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "en", failure.Source)
	require.Equal(t, "hi", failure.Target)
	require.ErrorContains(t, err, "model unavailable")
	require.Equal(t, 1, b.callCount())
}

func TestTranslate_EmptyBackendOutputIsFailure(t *testing.T) {
	b := &fakeBackend{fn: func(string, string, string) (string, error) { return "  ", nil }}
	s := mustNew(t, b)

	_, err := s.Translate(context.Background(), "hello", "hi")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.ErrorContains(t, err, "empty translation")
}

func TestTranslate_InvalidTargetIsFailureWithoutCall(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b)

	_, err := s.Translate(context.Background(), "hello", "???")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Zero(t, b.callCount())
}

func TestTranslate_UnsupportedTarget(t *testing.T) {
	b := &fakeBackend{}
	s := mustNew(t, b, WithSupported("en", "hi", "ne"))

	_, err := s.Translate(context.Background(), "hello", "fr")
	require.ErrorContains(t, err, "unsupported target language")
	require.Zero(t, b.callCount())

	out, err := s.Translate(context.Background(), "hello", "ne")
	require.NoError(t, err)
	require.Equal(t, "[ne] hello", out)
}

func TestTranslateAll_PreservesOrder(t *testing.T) {
	b := &fakeBackend{fn: func(text, _, _ string) (string, error) {
		return strings.ToUpper(text), nil
	}}
	s := mustNew(t, b, WithConcurrency(2))

	in := []string{"one", "two", "", "four", "five"}
	out, err := s.TranslateAll(context.Background(), in, "en", "hi")
	require.NoError(t, err)
	require.Equal(t, []string{"ONE", "TWO", "", "FOUR", "FIVE"}, out)
	require.Equal(t, 4, b.callCount())
}

func TestTranslateAll_FailsOnFirstError(t *testing.T) {
	b := &fakeBackend{fn: func(text, _, _ string) (string, error) {
		if text == "bad" {
			return "", errors.New("boom")
		}
		return text, nil
	}}
	s := mustNew(t, b)

	out, err := s.TranslateAll(context.Background(), []string{"ok", "bad", "ok"}, "en", "hi")
	require.Error(t, err)
	require.Nil(t, out)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
}

func TestTranslateAll_Empty(t *testing.T) {
	s := mustNew(t, &fakeBackend{})
	out, err := s.TranslateAll(context.Background(), nil, "en", "hi")
	require.NoError(t, err)
	require.Empty(t, out)
}
