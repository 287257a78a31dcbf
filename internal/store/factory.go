package store

import (
	"eventvax.app/relay/core/db/sqlc"
)

type Stores struct {
	queries *sqlc.Queries
}

func NewStores(queries *sqlc.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) IssuanceRequests() IssuanceRequestStore {
	return newIssuanceRequestStore(s.queries)
}
