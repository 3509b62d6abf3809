package sqlstore

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
)

// keyedRecord is a bun model with a UUID primary key stored as text and a
// natural key the repository looks records up by. Both methods must accept
// a nil receiver.
type keyedRecord interface {
	primaryKey() *string
	naturalKey() string
}

func (r *orderRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *orderRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.OrderID
}

func (r *providerConfigRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *providerConfigRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *webhookDeliveryRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *webhookDeliveryRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *lifecycleOutboxRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *lifecycleOutboxRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.EventID
}

func (r *rateLimitStateRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

func (r *rateLimitStateRecord) naturalKey() string {
	if r == nil {
		return ""
	}
	return r.ID
}

// handlersFor builds repository handlers for a keyed record whose natural
// key lives in column.
func handlersFor[R keyedRecord](newRecord func() R, column string) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			if id := record.primaryKey(); id != nil {
				return parseUUID(*id)
			}
			return uuid.Nil
		},
		SetID: func(record R, id uuid.UUID) {
			if target := record.primaryKey(); target != nil {
				*target = id.String()
			}
		},
		GetIdentifier: func() string {
			return column
		},
		GetIdentifierValue: func(record R) string {
			return strings.TrimSpace(record.naturalKey())
		},
	}
}

// newRepository builds and validates the repository for one table.
func newRepository[R keyedRecord](db *bun.DB, label string, newRecord func() R, column string) (repository.Repository[R], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[R](db, handlersFor(newRecord, column))
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", label, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

// isUniqueViolation recognizes duplicate-key failures from either driver,
// falling back to the message when the driver error was flattened.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
