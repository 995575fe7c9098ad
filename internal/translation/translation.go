// Package translation wraps an external text-translation capability with the
// identity short-circuits the chat flow relies on: empty text and same-language
// requests never reach the backend.
package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

// WorkingLanguage is the language the question-answering capability is
// always invoked in.
const WorkingLanguage = "en"

const defaultConcurrency = 4

// Translator is the external translation capability.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Failure reports a failed translation sub-call.
type Failure struct {
	Source string
	Target string
	Err    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("translation: %s->%s failed: %v", f.Source, f.Target, f.Err)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Normalize reduces a BCP 47 tag to its base language code, so "hi-IN" and
// "HI" both become "hi".
func Normalize(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", errors.New("translation: language tag is empty")
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("translation: parse language tag %q: %w", tag, err)
	}
	base, conf := t.Base()
	if conf == language.No {
		return "", fmt.Errorf("translation: language tag %q has no base language", tag)
	}
	return base.String(), nil
}

// IsWorking reports whether tag names the working language. Unparseable tags
// are compared verbatim.
func IsWorking(tag string) bool {
	n, err := Normalize(tag)
	if err != nil {
		return strings.TrimSpace(tag) == WorkingLanguage
	}
	return n == WorkingLanguage
}

type Service struct {
	backend     Translator
	concurrency int
	supported   map[string]bool
}

type Option func(*Service)

// WithConcurrency bounds the number of in-flight backend calls issued by
// TranslateAll.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSupported restricts target languages. Without it any parseable tag is
// accepted.
func WithSupported(tags ...string) Option {
	return func(s *Service) {
		s.supported = make(map[string]bool, len(tags))
		for _, t := range tags {
			if n, err := Normalize(t); err == nil {
				s.supported[n] = true
			}
		}
	}
}

func New(backend Translator, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("translation: backend must not be nil")
	}
	s := &Service{backend: backend, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Translate translates working-language text into target.
func (s *Service) Translate(ctx context.Context, text, target string) (string, error) {
	return s.TranslateFrom(ctx, text, WorkingLanguage, target)
}

// TranslateFrom translates text from source into target with at most one
// backend call. Empty text and source == target return text unchanged.
func (s *Service) TranslateFrom(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	src, err := Normalize(source)
	if err != nil {
		return "", &Failure{Source: source, Target: target, Err: err}
	}
	dst, err := Normalize(target)
	if err != nil {
		return "", &Failure{Source: source, Target: target, Err: err}
	}
	if src == dst {
		return text, nil
	}
	if s.supported != nil && !s.supported[dst] {
		return "", &Failure{Source: src, Target: dst, Err: fmt.Errorf("unsupported target language %q", dst)}
	}

	out, err := s.backend.Translate(ctx, text, src, dst)
	if err != nil {
		return "", &Failure{Source: src, Target: dst, Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &Failure{Source: src, Target: dst, Err: errors.New("empty translation")}
	}
	return out, nil
}

// TranslateAll translates texts concurrently and returns the results in input
// order. The first failure cancels the remaining calls and is returned.
func (s *Service) TranslateAll(ctx context.Context, texts []string, source, target string) ([]string, error) {
	out := make([]string, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			translated, err := s.TranslateFrom(gctx, text, source, target)
			if err != nil {
				return err
			}
			out[i] = translated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
