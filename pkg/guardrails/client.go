package guardrails

import (
	"context"
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/httpx"
	"github.com/coralogix/llm-tracekit-sub000/pkg/version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Client holds the resolved configuration. Guard calls go through a Session,
// either opened explicitly or one-shot via the Client convenience methods.
type Client struct {
	cfg    config.GuardrailsConfig
	opts   *options
	sender *sender
}

// New resolves cfg against the environment and defaults. It fails with a
// *ConfigError when no endpoint can be found.
func New(cfg config.GuardrailsConfig, opts ...Option) (*Client, error) {
	resolved, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	s, err := newSender(resolved, o)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: resolved, opts: o, sender: s}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() config.GuardrailsConfig {
	return c.cfg
}

// NewSession starts the guardrails.session span and opens the HTTP pool used
// by the session's guard calls.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := c.opts.httpClient
	owned := false
	if client == nil {
		client = httpx.NewFastHTTPClient(
			httpx.WithTimeout(c.cfg.Timeout),
			httpx.WithUserAgent(version.UserAgent()),
			httpx.WithTLSConfig(c.opts.tlsConfig),
		)
		owned = true
	}

	_, span := c.sender.tracer.Start(ctx, "guardrails.session",
		trace.WithAttributes(
			attribute.String(AttrApplicationName, c.cfg.ApplicationName),
			attribute.String(AttrSubsystemName, c.cfg.SubsystemName),
		),
	)

	c.opts.logger.WithField("endpoint", c.sender.url).Debug("guardrails session opened")

	return &Session{
		client: c,
		http:   client,
		owned:  owned,
		span:   span,
	}, nil
}

// GuardedSession runs fn with a fresh session and closes it however fn
// exits. A panic in fn is re-raised after the session is closed.
func (c *Client) GuardedSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := c.NewSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(trace.ContextWithSpan(ctx, s.span), s)
}

func (c *Client) Guard(ctx context.Context, messages []Message, configs []GuardrailConfig, target Target) (*Response, error) {
	var resp *Response
	err := c.GuardedSession(ctx, func(ctx context.Context, s *Session) error {
		var err error
		resp, err = s.Guard(ctx, messages, configs, target)
		return err
	})
	return resp, err
}

func (c *Client) GuardPrompt(ctx context.Context, configs []GuardrailConfig, prompt string) (*Response, error) {
	if prompt == "" || len(configs) == 0 {
		return nil, nil
	}
	return c.Guard(ctx, []Message{UserMessage(prompt)}, configs, TargetPrompt)
}

func (c *Client) GuardResponse(ctx context.Context, configs []GuardrailConfig, response, prompt string) (*Response, error) {
	if response == "" || len(configs) == 0 {
		return nil, nil
	}
	return c.Guard(ctx, responseMessages(response, prompt), configs, TargetResponse)
}

func (c *Client) String() string {
	return fmt.Sprintf("guardrails.Client{endpoint: %s, application: %s, subsystem: %s}",
		c.cfg.Endpoint, c.cfg.ApplicationName, c.cfg.SubsystemName)
}
