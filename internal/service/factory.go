package service

import (
	"log/slog"

	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/store"
)

type ServicesConfig struct {
	Stores    *store.Stores
	TxRunner  TxRunner
	Publisher queue.StatusPublisher
	Logger    *slog.Logger
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Issuance() IssuanceService {
	return NewIssuanceService(s.cfg.Stores.IssuanceRequests(), s.cfg.TxRunner, s.cfg.Publisher, s.cfg.Logger)
}
