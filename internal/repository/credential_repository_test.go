package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/model"
)

func strPtr(s string) *string { return &s }

func TestCredentialRepository_RegisterAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newTestDB(t))

	cred := &model.Credential{Username: "alice", Email: "alice@x.com", PasswordHash: "h"}
	require.NoError(t, repo.Register(ctx, cred, "alice"))
	assert.NotZero(t, cred.ID)

	found, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, found.ID)
	assert.True(t, found.IsActive)

	user, err := repo.GetUser(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.Equal(t, "{}", user.Preferences)

	_, err = repo.FindByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialRepository_RegisterDuplicateWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCredentialRepository(db)

	require.NoError(t, repo.Register(ctx, &model.Credential{Username: "alice", Email: "alice@x.com", PasswordHash: "h"}, "alice"))

	err := repo.Register(ctx, &model.Credential{Username: "alice", Email: "other@x.com", PasswordHash: "h"}, "alice")
	assert.ErrorIs(t, err, ErrDuplicate)
	err = repo.Register(ctx, &model.Credential{Username: "carol", Email: "alice@x.com", PasswordHash: "h"}, "carol")
	assert.ErrorIs(t, err, ErrDuplicate)

	var creds, profiles int64
	require.NoError(t, db.Model(&model.Credential{}).Count(&creds).Error)
	require.NoError(t, db.Model(&model.Profile{}).Count(&profiles).Error)
	assert.EqualValues(t, 1, creds)
	assert.EqualValues(t, 1, profiles)
}

func TestCredentialRepository_UpdateProfileIsPartial(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newTestDB(t))
	cred := &model.Credential{Username: "alice", Email: "alice@x.com", PasswordHash: "h"}
	require.NoError(t, repo.Register(ctx, cred, "alice"))

	require.NoError(t, repo.UpdateProfile(ctx, cred.ID, model.ProfileUpdate{
		DisplayName: strPtr("Alice"),
		AvatarURL:   strPtr("https://img/a.png"),
	}))
	require.NoError(t, repo.UpdateProfile(ctx, cred.ID, model.ProfileUpdate{Preferences: strPtr(`{"theme":"dark"}`)}))

	user, err := repo.GetUser(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, "https://img/a.png", user.AvatarURL)
	assert.Equal(t, `{"theme":"dark"}`, user.Preferences)

	assert.ErrorIs(t, repo.UpdateProfile(ctx, 999, model.ProfileUpdate{DisplayName: strPtr("x")}), ErrNotFound)
}

func TestCredentialRepository_UpdatesAndDeactivate(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(newTestDB(t))
	cred := &model.Credential{Username: "alice", Email: "alice@x.com", PasswordHash: "old"}
	require.NoError(t, repo.Register(ctx, cred, "alice"))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, cred.ID, at))
	require.NoError(t, repo.UpdatePasswordHash(ctx, cred.ID, "new"))

	found, err := repo.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", found.PasswordHash)
	assert.True(t, at.Equal(found.LastLogin))

	require.NoError(t, repo.Deactivate(ctx, cred.ID))
	_, err = repo.FindByID(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, cred.ID, "x"), ErrNotFound)
}
