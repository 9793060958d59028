package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/stayline/whatsapp-bridge-go/internal/errors"
	"github.com/stayline/whatsapp-bridge-go/internal/repository"
)

// Mirror copies credential files between the local cache and the durable
// store. Keys follow the {sessionId}_file_{filename} scheme so several
// deployments can share one table.
type Mirror struct {
	sessionID string
	cache     *Cache
	repo      repository.CredentialRepository
}

func NewMirror(sessionID string, cache *Cache, repo repository.CredentialRepository) *Mirror {
	return &Mirror{
		sessionID: sessionID,
		cache:     cache,
		repo:      repo,
	}
}

func (m *Mirror) keyPrefix() string {
	return m.sessionID + "_file_"
}

func (m *Mirror) blobKey(filename string) string {
	return m.keyPrefix() + filename
}

// Restore pulls every blob stored for this session into the local cache.
// Run before the handshake; an empty store is not an error, it just means a
// fresh pairing flow.
func (m *Mirror) Restore(ctx context.Context) (int, error) {
	blobs, err := m.repo.GetAll(ctx, m.keyPrefix())
	if err != nil {
		return 0, apperrors.PersistenceFailed("restore", err)
	}

	restored := 0
	for _, blob := range blobs {
		filename := strings.TrimPrefix(blob.Key, m.keyPrefix())
		if filename == "" || filename == blob.Key {
			continue
		}
		if err := m.cache.Write(filename, blob.Content); err != nil {
			return restored, apperrors.PersistenceFailed("restore", err)
		}
		log.Debug().Str("filename", filename).Msg("credential file restored")
		restored++
	}

	return restored, nil
}

// Backup mirrors the entire cache into the durable store, overwriting prior
// versions. The set of blobs in the store matches the cache afterwards.
func (m *Mirror) Backup(ctx context.Context) error {
	files, err := m.cache.ReadAll()
	if err != nil {
		return apperrors.PersistenceFailed("backup", err)
	}

	for filename, content := range files {
		if err := m.repo.Set(ctx, m.blobKey(filename), content); err != nil {
			return apperrors.PersistenceFailed("backup", err)
		}
	}

	log.Debug().Int("files", len(files)).Msg("credentials backed up")
	return nil
}

// Save writes one updated credential file into the cache and then mirrors
// the whole cache to the store. The durable write happens before the
// mutation is considered complete so a crash cannot resurrect a stale
// session.
func (m *Mirror) Save(ctx context.Context, filename string, content []byte) error {
	if err := m.cache.Write(filename, content); err != nil {
		return apperrors.PersistenceFailed("save", err)
	}
	return m.Backup(ctx)
}

// Wipe clears both the cache and the durable store. Both sides are
// attempted even if one fails; repeating a wipe is a no-op.
func (m *Mirror) Wipe(ctx context.Context) error {
	var errs []string

	cleared, err := m.cache.Clear()
	if err != nil {
		errs = append(errs, fmt.Sprintf("cache: %v", err))
	} else if cleared > 0 {
		log.Info().Int("files", cleared).Msg("local credential files cleared")
	}

	deleted, err := m.repo.DeleteByPrefix(ctx, m.sessionID)
	if err != nil {
		errs = append(errs, fmt.Sprintf("store: %v", err))
	} else if deleted > 0 {
		log.Info().Int64("blobs", deleted).Msg("durable credential blobs cleared")
	}

	if len(errs) > 0 {
		return apperrors.PersistenceFailed("wipe", fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}
