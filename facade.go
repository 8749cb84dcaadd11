package outbound

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-outbound/adapters/gocommand"
	outboundcommand "github.com/goliatone/go-outbound/command"
	outboundquery "github.com/goliatone/go-outbound/query"
)

type Commands struct {
	RefreshToken      *outboundcommand.RefreshTokenCommand
	ForgetIdempotency *outboundcommand.ForgetIdempotencyCommand
}

type Queries struct {
	TokenStatus    *outboundquery.TokenStatusQuery
	RateLimitState *outboundquery.RateLimitStateQuery
}

// FacadeOption customizes the handlers a facade exposes.
type FacadeOption func(*Facade)

// WithRateLimitStates exposes the adaptive throttle state recorded in reader.
func WithRateLimitStates(reader outboundquery.RateLimitStateReader) FacadeOption {
	return func(f *Facade) {
		f.states = reader
	}
}

// Facade exposes a client's maintenance operations as go-command handlers.
type Facade struct {
	client   *Client
	tokens   gocommand.TokenHandle
	states   outboundquery.RateLimitStateReader
	commands Commands
	queries  Queries
}

func NewFacade(client *Client, opts ...FacadeOption) (*Facade, error) {
	if client == nil {
		return nil, fmt.Errorf("outbound: client is required")
	}
	facade := &Facade{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(facade)
		}
	}
	// a client without a token fetcher has no refresh or status handlers
	if provider := client.Tokens(); provider != nil {
		facade.tokens = provider
		facade.commands.RefreshToken = outboundcommand.NewRefreshTokenCommand(provider)
		facade.queries.TokenStatus = outboundquery.NewTokenStatusQuery(provider)
	}
	facade.commands.ForgetIdempotency = outboundcommand.NewForgetIdempotencyCommand(client.Idempotency())
	if facade.states != nil {
		facade.queries.RateLimitState = outboundquery.NewRateLimitStateQuery(facade.states)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Client() *Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Register subscribes the facade handlers on the go-command dispatcher and
// records the commands in the adapter registry.
func (f *Facade) Register(
	adapter *gocommand.RegistryAdapter,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if f == nil {
		return nil, fmt.Errorf("outbound: facade is nil")
	}
	subscriptions, err := gocommand.RegisterClientCommands(adapter, f.tokens, f.client.Idempotency(), runnerOpts...)
	if err != nil {
		return nil, err
	}
	if f.states != nil {
		sub, err := gocommand.RegisterRateLimitQuery(f.states, runnerOpts...)
		if err != nil {
			for _, existing := range subscriptions {
				existing.Unsubscribe()
			}
			return nil, err
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, nil
}
