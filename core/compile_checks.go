package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ OrderFulfiller    = (*Service)(nil)
	_ ActivationService = (*Service)(nil)
	_ OrderStore        = (*MemoryOrderStore)(nil)
	_ OutboxStore       = (*MemoryOutboxStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
