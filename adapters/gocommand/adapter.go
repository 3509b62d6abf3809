package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	esim "github.com/goliatone/go-esim"
)

var errNoRegistry = errors.New("gocommand: registry is not configured")

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return command.ValidateMessage(msg)
}

// RegistryAdapter pairs a go-command registry with the process dispatcher
// so facade messages can be dispatched by type.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd to the dispatcher and records it in the
// registry. A failed registration leaves no subscription behind.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return register(adapter, cmd, commanddispatcher.SubscribeCommand(cmd, runnerOpts...))
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return register(adapter, qry, commanddispatcher.SubscribeQuery(qry, runnerOpts...))
}

func register(adapter *RegistryAdapter, handler any, sub commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if err := adapter.registry.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil, err
	}
	return sub, nil
}

// RegisterFacade wires every facade command and query to the dispatcher.
// Either all of them are subscribed or none are.
func RegisterFacade(
	adapter *RegistryAdapter,
	facade *esim.Facade,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}
	commands, queries := facade.Commands(), facade.Queries()
	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, commands.FulfillOrder, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, commands.DispatchLifecycle, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, commands.PutProviderConfig, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, queries.GetActivation, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, queries.GetSIMUsage, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, queries.GetOrder, runnerOpts...)
		},
	}

	subs := make([]commanddispatcher.Subscription, 0, len(steps))
	for _, step := range steps {
		sub, err := step()
		if err != nil {
			Unsubscribe(subs)
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Unsubscribe removes every subscription in subs.
func Unsubscribe(subs []commanddispatcher.Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
