package esim

import (
	"fmt"

	esimcommand "github.com/goliatone/go-esim/command"
	"github.com/goliatone/go-esim/core"
	esimquery "github.com/goliatone/go-esim/query"
)

// CommandQueryService is what the facade needs from the order service.
type CommandQueryService interface {
	core.OrderFulfiller
	core.ActivationService
}

type Commands struct {
	FulfillOrder      *esimcommand.FulfillOrderCommand
	DispatchLifecycle *esimcommand.DispatchLifecycleCommand
	PutProviderConfig *esimcommand.PutProviderConfigCommand
}

type Queries struct {
	GetActivation *esimquery.GetActivationQuery
	GetSIMUsage   *esimquery.GetSIMUsageQuery
	GetOrder      *esimquery.GetOrderQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	dispatcher   core.LifecycleDispatcher
	configWriter esimcommand.ProviderConfigWriter
	orders       esimquery.OrderReader
}

func WithLifecycleDispatcher(dispatcher core.LifecycleDispatcher) FacadeOption {
	return func(options *facadeOptions) {
		options.dispatcher = dispatcher
	}
}

func WithProviderConfigWriter(writer esimcommand.ProviderConfigWriter) FacadeOption {
	return func(options *facadeOptions) {
		options.configWriter = writer
	}
}

func WithOrderReader(reader esimquery.OrderReader) FacadeOption {
	return func(options *facadeOptions) {
		options.orders = reader
	}
}

// NewFacade builds every command and query over service. Handlers whose
// optional dependency was not supplied return a dependency error when run.
func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("esim: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.orders == nil {
		if reader, ok := service.(esimquery.OrderReader); ok {
			cfg.orders = reader
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		FulfillOrder:      esimcommand.NewFulfillOrderCommand(service),
		DispatchLifecycle: esimcommand.NewDispatchLifecycleCommand(cfg.dispatcher),
		PutProviderConfig: esimcommand.NewPutProviderConfigCommand(cfg.configWriter),
	}
	facade.queries = Queries{
		GetActivation: esimquery.NewGetActivationQuery(service),
		GetSIMUsage:   esimquery.NewGetSIMUsageQuery(service),
		GetOrder:      esimquery.NewGetOrderQuery(cfg.orders),
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

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
