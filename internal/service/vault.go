package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/queue"
	"github.com/iliyamo/devops-dashboard/internal/repository"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// Vault stores one credential per (account, service type). Payloads are
// checked against the service schema, sealed, and written with a single
// upsert so concurrent saves never produce a second row.
type Vault struct {
	repo   *repository.CredentialRepo
	box    *utils.SecretBox
	events queue.Publisher
	now    func() time.Time
}

func NewVault(repo *repository.CredentialRepo, box *utils.SecretBox, events queue.Publisher) *Vault {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &Vault{repo: repo, box: box, events: events, now: time.Now}
}

// additionalData binds a sealed blob to its row.
func additionalData(accountID uint64, st model.ServiceType) []byte {
	return []byte(fmt.Sprintf("%d:%s", accountID, st))
}

// Save validates and stores payload, replacing any previous credential for
// the same service and reactivating it.
func (v *Vault) Save(ctx context.Context, accountID uint64, st model.ServiceType, payload map[string]string) (model.ServiceCredential, error) {
	if _, ok := st.Schema(); !ok {
		return model.ServiceCredential{}, apperr.Validation("unknown service type")
	}
	if err := st.ValidatePayload(payload); err != nil {
		return model.ServiceCredential{}, apperr.Validation(err.Error())
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return model.ServiceCredential{}, apperr.Dependency("encode credential", err)
	}
	sealed, err := v.box.Seal(plain, additionalData(accountID, st))
	if err != nil {
		return model.ServiceCredential{}, apperr.Dependency("seal credential", err)
	}
	if err := v.repo.Upsert(ctx, accountID, st, sealed, v.now()); err != nil {
		return model.ServiceCredential{}, apperr.Dependency("save credential", err)
	}

	ev := queue.NewAuditEvent(queue.EventCredentialSaved, accountID)
	ev.Service = string(st)
	v.emit(ctx, ev)

	return v.Get(ctx, accountID, st)
}

// Get returns the active credential of accountID for st, decrypted.
func (v *Vault) Get(ctx context.Context, accountID uint64, st model.ServiceType) (model.ServiceCredential, error) {
	row, err := v.repo.Get(ctx, accountID, st)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !row.IsActive) {
		return model.ServiceCredential{}, apperr.NotFound("no credentials saved for " + string(st))
	}
	if err != nil {
		return model.ServiceCredential{}, apperr.Dependency("load credential", err)
	}

	plain, err := v.box.Open(row.Secret, additionalData(accountID, st))
	if err != nil {
		return model.ServiceCredential{}, apperr.Dependency("open credential", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(plain, &payload); err != nil {
		return model.ServiceCredential{}, apperr.Dependency("decode credential", err)
	}

	return model.ServiceCredential{
		ID:          row.ID,
		AccountID:   row.AccountID,
		ServiceType: row.ServiceType,
		Payload:     payload,
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		LastSync:    row.LastSync,
	}, nil
}

// ListForAccount returns metadata for every saved service. No secrets.
func (v *Vault) ListForAccount(ctx context.Context, accountID uint64) ([]model.CredentialMeta, error) {
	list, err := v.repo.ListMeta(ctx, accountID)
	if err != nil {
		return nil, apperr.Dependency("list credentials", err)
	}
	return list, nil
}

// HasActive reports whether accountID holds an active credential for st.
func (v *Vault) HasActive(ctx context.Context, accountID uint64, st model.ServiceType) (bool, error) {
	ok, err := v.repo.HasActive(ctx, accountID, st)
	if err != nil {
		return false, apperr.Dependency("check credential", err)
	}
	return ok, nil
}

// Deactivate disconnects a service. The row is kept so a later Save reuses it.
func (v *Vault) Deactivate(ctx context.Context, accountID uint64, st model.ServiceType) error {
	err := v.repo.SetActive(ctx, accountID, st, false, v.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("no credentials saved for " + string(st))
	}
	if err != nil {
		return apperr.Dependency("deactivate credential", err)
	}

	ev := queue.NewAuditEvent(queue.EventCredentialDisconnect, accountID)
	ev.Service = string(st)
	v.emit(ctx, ev)
	return nil
}

// MarkSynced records a successful use of the credential at.
func (v *Vault) MarkSynced(ctx context.Context, accountID uint64, st model.ServiceType, at time.Time) error {
	err := v.repo.MarkSynced(ctx, accountID, st, at)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("no credentials saved for " + string(st))
	}
	if err != nil {
		return apperr.Dependency("mark credential synced", err)
	}
	return nil
}

func (v *Vault) emit(ctx context.Context, ev queue.AuditEvent) {
	if err := v.events.Publish(ctx, ev); err != nil {
		logrus.WithError(err).WithField("type", ev.Type).Warn("audit publish failed")
	}
}
