package service

import (
	"context"
	"fmt"
	"strings"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

// FindUserByUsername returns the user whose normalized username matches, or
// nil when there is none.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	norm := schema.NormalizeUsername(username)
	if norm == "" {
		return nil, nil
	}
	rec, err := s.store.GetBy(ctx, schema.Users, "usernameNorm", norm)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := codec.UserFromRecord(rec)
	return &user, nil
}

// Login checks the credentials and returns the session of the user. A stored
// password the verifier would hash differently is rewritten after a
// successful check.
func (s *Service) Login(ctx context.Context, username string, password string) (domain.Session, error) {
	user, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return domain.Session{}, err
	}
	if user == nil || !s.verifier.Verify(user.Password, password) {
		return domain.Session{}, ErrInvalidCredentials
	}

	if s.verifier.NeedsRehash(user.Password) {
		hashed, err := s.verifier.Hash(password)
		if err == nil {
			_, err = s.store.Update(ctx, schema.Users, user.ID, schema.Record{"password": hashed})
		}
		if err != nil {
			s.logger.Warnw("password rehash failed", "user_id", user.ID, "error", err)
		} else {
			s.logger.Infow("password rehashed", "user_id", user.ID, "scheme", s.verifier.Name())
		}
	}

	return domain.Session{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (s *Service) CreateUser(ctx context.Context, sess domain.Session, req domain.UserCreateRequest) (domain.User, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.User{}, err
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validateRequest(req); err != nil {
		return domain.User{}, err
	}
	return s.createUser(ctx, req.Username, req.Password, req.Role)
}

func (s *Service) createUser(ctx context.Context, username string, password string, role domain.Role) (domain.User, error) {
	existing, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return domain.User{}, fmt.Errorf("%w: username %q is taken", store.ErrConstraintViolation, username)
	}

	hashed, err := s.verifier.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		Username:     username,
		UsernameNorm: schema.NormalizeUsername(username),
		Password:     hashed,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	key, err := s.store.Insert(ctx, schema.Users, codec.UserToRecord(user))
	if err != nil {
		return domain.User{}, fmt.Errorf("create user %s: %w", username, err)
	}
	user.ID = mustInt(key)
	return user, nil
}

// ListUsers returns every user, or only those with role when it is set.
func (s *Service) ListUsers(ctx context.Context, sess domain.Session, role domain.Role) ([]domain.User, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	q := store.Query{}
	if role != "" {
		q.Field, q.Value = "role", string(schema.NormalizeRole(string(role)))
	}
	recs, err := s.store.Find(ctx, schema.Users, q)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(recs))
	for _, rec := range recs {
		users = append(users, codec.UserFromRecord(rec))
	}
	return users, nil
}

// UpdateProfile changes the caller's own password or photo.
func (s *Service) UpdateProfile(ctx context.Context, sess domain.Session, req domain.ProfileUpdateRequest) (domain.User, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.User{}, err
	}
	patch := schema.Record{}
	if req.Password != nil {
		hashed, err := s.verifier.Hash(*req.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		patch["password"] = hashed
	}
	if req.PhotoFileID != nil {
		patch["photoFileId"] = *req.PhotoFileID
	}
	if len(patch) == 0 {
		rec, err := s.store.Get(ctx, schema.Users, sess.UserID)
		if err != nil {
			return domain.User{}, err
		}
		return codec.UserFromRecord(rec), nil
	}
	rec, err := s.store.Update(ctx, schema.Users, sess.UserID, patch)
	if err != nil {
		return domain.User{}, fmt.Errorf("update profile %d: %w", sess.UserID, err)
	}
	return codec.UserFromRecord(rec), nil
}
