package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/blob"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"go.uber.org/zap"
)

const defaultStoreTimeout = 5 * time.Second

var (
	errMissingStore      = errors.New("record store is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingAuthorizer = errors.New("admin authorizer is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// AdminChecker resolves whether a credential belongs to an admin.
type AdminChecker interface {
	IsAdmin(candidate string) bool
}

// IDProvider issues identifiers for prompts submitted without one.
type IDProvider interface {
	NewID() (string, error)
}

// Notifier is told about committed mutations.
type Notifier interface {
	NotifyPromptChange(notice ChangeNotice)
}

// OperationRecorder counts service outcomes.
type OperationRecorder interface {
	RecordPromptOperation(operation, outcome string)
}

type ServiceConfig struct {
	Store        kv.Store
	Blobs        blob.Store
	Authorizer   AdminChecker
	IDProvider   IDProvider
	Clock        func() time.Time
	StoreTimeout time.Duration
	Notifier     Notifier
	Recorder     OperationRecorder
	Logger       *zap.Logger
}

// Service applies the gallery's visibility and moderation rules on top of
// the record and blob stores.
type Service struct {
	store        kv.Store
	blobs        blob.Store
	authorizer   AdminChecker
	idProvider   IDProvider
	clock        func() time.Time
	storeTimeout time.Duration
	notifier     Notifier
	recorder     OperationRecorder
	logger       *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	if cfg.Authorizer == nil {
		return nil, newServiceError(opServiceNew, "missing_authorizer", errMissingAuthorizer)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:        cfg.Store,
		blobs:        cfg.Blobs,
		authorizer:   cfg.Authorizer,
		idProvider:   cfg.IDProvider,
		clock:        clock,
		storeTimeout: storeTimeout,
		notifier:     cfg.Notifier,
		recorder:     cfg.Recorder,
		logger:       logger,
	}, nil
}

// IsAdmin reports whether the credential grants admin rights.
func (s *Service) IsAdmin(credential string) bool {
	if s == nil || s.authorizer == nil {
		return false
	}
	return s.authorizer.IsAdmin(credential)
}

// List returns the prompts visible to the caller, newest first. Admins see
// every record; everyone else sees approved records only. Records that fail
// to decode are logged and skipped.
func (s *Service) List(ctx context.Context, credential string) ([]Prompt, error) {
	if s == nil || s.store == nil {
		return nil, newServiceError(opList, "missing_store", errMissingStore)
	}
	isAdmin := s.IsAdmin(credential)

	storeCtx, cancel := s.storeContext(ctx)
	entries, err := s.store.List(storeCtx, keyPrefix)
	cancel()
	if err != nil {
		s.logError(opList, "store_list_failed", err)
		s.record(opList, "store_unavailable")
		return nil, newServiceError(opList, "store_list_failed", storeFailure(err))
	}

	visible := make([]Prompt, 0, len(entries))
	for _, entry := range entries {
		prompt, err := decodePrompt(entry)
		if err != nil {
			s.loggerOrDefault().Warn("skipping corrupt prompt record",
				zap.String("operation", opList),
				zap.String("key", entry.Key),
				zap.Error(err))
			s.record(opList, "record_corrupt")
			continue
		}
		if !isAdmin && !prompt.PubliclyVisible() {
			continue
		}
		visible = append(visible, prompt)
	}

	sortByDateDescending(visible)
	s.record(opList, "ok")
	return visible, nil
}

// Upsert replaces the record under the request's id after applying the
// moderation rules, and returns what was persisted.
func (s *Service) Upsert(ctx context.Context, request UpsertRequest) (Prompt, error) {
	if s == nil || s.store == nil {
		return Prompt{}, newServiceError(opUpsert, "missing_store", errMissingStore)
	}

	isAdmin := s.IsAdmin(request.Credential)
	if !isAdmin && strings.TrimSpace(request.Credential) != "" {
		s.loggerOrDefault().Warn("rejected upsert with invalid admin credential",
			zap.String("prompt_id", request.Prompt.ID))
		s.record(opUpsert, "unauthorized")
		return Prompt{}, newServiceError(opUpsert, "unauthorized", ErrUnauthorized)
	}

	candidate := request.Prompt
	if strings.TrimSpace(candidate.ID) == "" {
		generated, err := s.newID()
		if err != nil {
			s.logError(opUpsert, "id_generation_failed", err)
			return Prompt{}, newServiceError(opUpsert, "id_generation_failed", err)
		}
		candidate.ID = generated
	}
	promptID, err := NewPromptID(candidate.ID)
	if err != nil {
		s.record(opUpsert, "bad_request")
		return Prompt{}, newServiceError(opUpsert, "invalid_id", fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	candidate.ID = promptID

	// Public writes are moderated before validation; only rating can reject them.
	if !isAdmin {
		candidate = moderateSubmission(candidate)
	}
	if err := candidate.validate(); err != nil {
		s.record(opUpsert, "bad_request")
		return Prompt{}, newServiceError(opUpsert, "invalid_prompt", fmt.Errorf("%w: %w", ErrBadRequest, err))
	}

	imageURL, objectPath, err := s.materializeImage(ctx, candidate.ID, candidate.ImageURL)
	if err != nil {
		return Prompt{}, err
	}
	candidate.ImageURL = imageURL

	var persisted Prompt
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	_, err = s.store.Update(storeCtx, StorageKey(candidate.ID), func(current []byte, found bool) ([]byte, error) {
		persisted = resolveWrite(candidate, isAdmin, current, found)
		return json.Marshal(persisted)
	})
	if err != nil {
		s.logError(opUpsert, "store_write_failed", err, zap.String("prompt_id", candidate.ID))
		if objectPath != "" {
			s.loggerOrDefault().Warn("prompt image orphaned",
				zap.String("prompt_id", candidate.ID),
				zap.String("object_path", objectPath))
		}
		s.record(opUpsert, "store_unavailable")
		return Prompt{}, newServiceError(opUpsert, "store_write_failed", storeFailure(err))
	}

	s.notify(ChangeNotice{Kind: ChangeKindUpserted, PromptID: persisted.ID, PublicVisible: persisted.PubliclyVisible()})
	s.record(opUpsert, "ok")
	return persisted, nil
}

// resolveWrite forces the moderation fields for the caller's role. Public
// submissions always enter the queue as pending, never official, and cannot
// seed or overwrite the like counter.
func resolveWrite(candidate Prompt, isAdmin bool, current []byte, found bool) Prompt {
	resolved := candidate
	if resolved.Tags == nil {
		resolved.Tags = []string{}
	}

	if isAdmin {
		if resolved.Status == "" {
			resolved.Status = StatusApproved
		}
		return resolved
	}

	resolved = moderateSubmission(resolved)
	if found {
		var existing Prompt
		if err := json.Unmarshal(current, &existing); err == nil && existing.Likes > 0 {
			resolved.Likes = existing.Likes
		}
	}
	return resolved
}

func moderateSubmission(candidate Prompt) Prompt {
	candidate.Status = StatusPending
	candidate.IsOfficial = false
	candidate.Likes = 0
	return candidate
}

// materializeImage uploads an inline image and returns its public URL along
// with the object path written. Plain URLs pass through with an empty path.
func (s *Service) materializeImage(ctx context.Context, promptID, imageURL string) (string, string, error) {
	if !isInlineImage(imageURL) {
		return imageURL, "", nil
	}
	if s.blobs == nil {
		return "", "", newServiceError(opUpsert, "missing_blob_store", errMissingBlobStore)
	}

	image, err := decodeInlineImage(imageURL)
	if err != nil {
		s.record(opUpsert, "bad_request")
		return "", "", newServiceError(opUpsert, "invalid_image", fmt.Errorf("%w: %w", ErrBadRequest, err))
	}

	objectPath := imageObjectPath(promptID, s.clock().UTC(), image.contentType)
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	publicURL, err := s.blobs.Put(storeCtx, objectPath, image.data, image.contentType)
	if err != nil {
		s.logError(opUpsert, "blob_write_failed", err,
			zap.String("prompt_id", promptID),
			zap.String("object_path", objectPath))
		s.record(opUpsert, "store_unavailable")
		return "", "", newServiceError(opUpsert, "blob_write_failed", storeFailure(err))
	}

	s.loggerOrDefault().Info("prompt image materialized",
		zap.String("prompt_id", promptID),
		zap.String("object_path", objectPath),
		zap.Int("bytes", len(image.data)))
	return publicURL, objectPath, nil
}

// Delete removes the record for id. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id, credential string) (string, error) {
	if s == nil || s.store == nil {
		return "", newServiceError(opDelete, "missing_store", errMissingStore)
	}
	if !s.IsAdmin(credential) {
		s.loggerOrDefault().Warn("rejected delete with invalid admin credential", zap.String("prompt_id", id))
		s.record(opDelete, "unauthorized")
		return "", newServiceError(opDelete, "unauthorized", ErrUnauthorized)
	}
	promptID, err := NewPromptID(id)
	if err != nil {
		s.record(opDelete, "bad_request")
		return "", newServiceError(opDelete, "missing_id", fmt.Errorf("%w: %w", ErrBadRequest, err))
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.Delete(storeCtx, StorageKey(promptID)); err != nil {
		s.logError(opDelete, "store_delete_failed", err, zap.String("prompt_id", promptID))
		s.record(opDelete, "store_unavailable")
		return "", newServiceError(opDelete, "store_delete_failed", storeFailure(err))
	}

	s.notify(ChangeNotice{Kind: ChangeKindDeleted, PromptID: promptID, PublicVisible: true})
	s.record(opDelete, "ok")
	return promptID, nil
}

// Like increments the like counter of an existing prompt by one and returns
// the new value. Only the likes field is rewritten; the rest of the stored
// document is preserved as-is.
func (s *Service) Like(ctx context.Context, id string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, newServiceError(opLike, "missing_store", errMissingStore)
	}
	promptID, err := NewPromptID(id)
	if err != nil {
		s.record(opLike, "bad_request")
		return 0, newServiceError(opLike, "missing_id", fmt.Errorf("%w: %w", ErrBadRequest, err))
	}

	var (
		likes         int64
		publicVisible bool
	)
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	_, err = s.store.Update(storeCtx, StorageKey(promptID), func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, ErrNotFound
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(current, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
		}
		var existing Prompt
		if err := json.Unmarshal(current, &existing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
		}
		likes = existing.Likes
		if likes < 0 {
			likes = 0
		}
		likes++
		publicVisible = existing.PubliclyVisible()

		encodedLikes, err := json.Marshal(likes)
		if err != nil {
			return nil, err
		}
		fields["likes"] = encodedLikes
		return json.Marshal(fields)
	})
	switch {
	case errors.Is(err, ErrNotFound):
		s.record(opLike, "not_found")
		return 0, newServiceError(opLike, "not_found", ErrNotFound)
	case errors.Is(err, ErrRecordCorrupt):
		s.logError(opLike, "record_corrupt", err, zap.String("prompt_id", promptID))
		s.record(opLike, "record_corrupt")
		return 0, newServiceError(opLike, "record_corrupt", err)
	case err != nil:
		s.logError(opLike, "store_update_failed", err, zap.String("prompt_id", promptID))
		s.record(opLike, "store_unavailable")
		return 0, newServiceError(opLike, "store_update_failed", storeFailure(err))
	}

	s.notify(ChangeNotice{Kind: ChangeKindLiked, PromptID: promptID, PublicVisible: publicVisible})
	s.record(opLike, "ok")
	return likes, nil
}

func decodePrompt(entry kv.Entry) (Prompt, error) {
	var prompt Prompt
	if err := json.Unmarshal(entry.Value, &prompt); err != nil {
		return Prompt{}, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	if prompt.ID == "" {
		prompt.ID = strings.TrimPrefix(entry.Key, keyPrefix)
	}
	if prompt.Tags == nil {
		prompt.Tags = []string{}
	}
	return prompt, nil
}

func (s *Service) newID() (string, error) {
	if s.idProvider == nil {
		return "", errMissingIDProvider
	}
	return s.idProvider.NewID()
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.storeTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) notify(notice ChangeNotice) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyPromptChange(notice)
}

func (s *Service) record(operation, outcome string) {
	if s == nil || s.recorder == nil {
		return
	}
	s.recorder.RecordPromptOperation(operation, outcome)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("prompts service error", attrs...)
}
