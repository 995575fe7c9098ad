package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSM rejects GetParameters calls naming more than ten parameters.
const maxBatch = 10

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Getter fetches a single decrypted parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// BatchGetter fetches several decrypted parameters in as few calls as possible.
type BatchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
	Lookup(ctx context.Context, names ...string) (map[string]string, []string, error)
}

// Client reads parameters below an optional path prefix. Names passed to it
// are relative to the prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

type Option func(*Client)

// WithPrefix roots every lookup under prefix, e.g. "/periodpal/prod".
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) path(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + strings.TrimLeft(name, "/")
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	full := c.path(name)
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", full)
	}
	return *out.Parameter.Value, nil
}

// GetParameters returns the values keyed by the names as given. Any name SSM
// reports as invalid fails the whole call.
func (c *Client) GetParameters(ctx context.Context, names ...string) (map[string]string, error) {
	values, invalid, err := c.fetch(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("paramstore: invalid parameters: %s", strings.Join(invalid, ", "))
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := values[n]; !ok {
			return nil, fmt.Errorf("paramstore: parameter %q missing value", c.path(n))
		}
	}
	return values, nil
}

// Lookup is GetParameters for optional parameters: names SSM does not know
// or returns without a value are reported in missing instead of failing.
func (c *Client) Lookup(ctx context.Context, names ...string) (map[string]string, []string, error) {
	values, _, err := c.fetch(ctx, names)
	if err != nil {
		return nil, nil, err
	}
	var missing []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := values[n]; !ok {
			missing = append(missing, n)
		}
	}
	return values, missing, nil
}

// fetch batches the names into GetParameters calls and returns the values it
// found plus the full paths SSM reported as invalid.
func (c *Client) fetch(ctx context.Context, names []string) (map[string]string, []string, error) {
	if c.api == nil {
		return nil, nil, errors.New("paramstore: client not initialized")
	}
	if len(names) == 0 {
		return nil, nil, errors.New("paramstore: at least one name is required")
	}

	byPath := make(map[string]string, len(names))
	paths := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, nil, errors.New("paramstore: name is required")
		}
		p := c.path(n)
		if _, dup := byPath[p]; dup {
			continue
		}
		byPath[p] = n
		paths = append(paths, p)
	}

	values := make(map[string]string, len(paths))
	var invalid []string
	for start := 0; start < len(paths); start += maxBatch {
		end := min(start+maxBatch, len(paths))
		out, err := c.api.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          paths[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("paramstore: get parameters: %w", err)
		}
		if out == nil {
			return nil, nil, errors.New("paramstore: empty get parameters response")
		}
		invalid = append(invalid, out.InvalidParameters...)
		for _, p := range out.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			if name, ok := byPath[*p.Name]; ok {
				values[name] = *p.Value
			}
		}
	}
	return values, invalid, nil
}
