package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/security"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProviderConfigStore holds one configuration document per provider or
// payment processor. Reads are never cached. With a cipher attached the
// client and webhook secrets are sealed before they reach the table;
// unsealed rows written earlier still read back as-is.
type ProviderConfigStore struct {
	db     *bun.DB
	repo   repository.Repository[*providerConfigRecord]
	cipher core.SecretCipher
}

func NewProviderConfigStore(db *bun.DB) (*ProviderConfigStore, error) {
	repo, err := newRepository(db, "provider config", func() *providerConfigRecord { return &providerConfigRecord{} }, "provider")
	if err != nil {
		return nil, err
	}
	return &ProviderConfigStore{db: db, repo: repo}, nil
}

func (s *ProviderConfigStore) GetProviderConfig(ctx context.Context, provider string) (core.ProviderConfigDocument, error) {
	if s == nil || s.repo == nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: provider config store is not configured")
	}
	provider = normalizeProvider(provider)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", provider),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ProviderConfigDocument{}, err
	}
	if len(records) == 0 {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: provider %q: %w", provider, core.ErrProviderConfigNotFound)
	}
	doc := records[0].toDomain()
	if doc.ClientSecret, err = s.open(ctx, doc.ClientSecret); err != nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: provider %q client secret: %w", provider, err)
	}
	if doc.WebhookSecret, err = s.open(ctx, doc.WebhookSecret); err != nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: provider %q webhook secret: %w", provider, err)
	}
	return doc, nil
}

// UseCipher attaches the cipher used to seal secrets on write.
func (s *ProviderConfigStore) UseCipher(cipher core.SecretCipher) {
	if s != nil {
		s.cipher = cipher
	}
}

// PutProviderConfig validates and upserts the document for doc.Provider.
func (s *ProviderConfigStore) PutProviderConfig(ctx context.Context, doc core.ProviderConfigDocument) (core.ProviderConfigDocument, error) {
	if s == nil || s.db == nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: provider config store is not configured")
	}
	doc.Provider = normalizeProvider(doc.Provider)
	if err := doc.Validate(); err != nil {
		return core.ProviderConfigDocument{}, core.WrapError(err, core.ErrorValidationFailed, "invalid provider configuration", map[string]any{
			core.MetadataKeyProvider: doc.Provider,
		})
	}
	env, _ := core.ParseEnvironment(string(doc.Environment))
	clientSecret, err := s.seal(ctx, strings.TrimSpace(doc.ClientSecret))
	if err != nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: seal client secret: %w", err)
	}
	webhookSecret, err := s.seal(ctx, strings.TrimSpace(doc.WebhookSecret))
	if err != nil {
		return core.ProviderConfigDocument{}, fmt.Errorf("sqlstore: seal webhook secret: %w", err)
	}
	now := time.Now().UTC()
	record := &providerConfigRecord{
		ID:            uuid.NewString(),
		Provider:      doc.Provider,
		ClientID:      strings.TrimSpace(doc.ClientID),
		ClientSecret:  clientSecret,
		Environment:   string(env),
		BaseURL:       strings.TrimSpace(doc.BaseURL),
		WebhookSecret: webhookSecret,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, updateErr := tx.NewUpdate().
			Model(record).
			ExcludeColumn("id", "provider", "created_at").
			Where("provider = ?", record.Provider).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			return nil
		}
		_, createErr := s.repo.CreateTx(ctx, tx, record)
		return createErr
	})
	if err != nil {
		return core.ProviderConfigDocument{}, err
	}
	return s.GetProviderConfig(ctx, doc.Provider)
}

func (r *providerConfigRecord) toDomain() core.ProviderConfigDocument {
	if r == nil {
		return core.ProviderConfigDocument{}
	}
	return core.ProviderConfigDocument{
		Provider:      r.Provider,
		ClientID:      r.ClientID,
		ClientSecret:  r.ClientSecret,
		Environment:   core.NormalizeEnvironment(r.Environment),
		BaseURL:       r.BaseURL,
		WebhookSecret: r.WebhookSecret,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *ProviderConfigStore) seal(ctx context.Context, value string) (string, error) {
	if s.cipher == nil || value == "" {
		return value, nil
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

func (s *ProviderConfigStore) open(ctx context.Context, value string) (string, error) {
	if value == "" || !security.IsSealed([]byte(value)) {
		return value, nil
	}
	if s.cipher == nil {
		return "", fmt.Errorf("value is sealed but no cipher is configured")
	}
	opened, err := s.cipher.Decrypt(ctx, []byte(value))
	if err != nil {
		return "", err
	}
	return string(opened), nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
