package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/hash"
)

func TestAuthService_RegisterAndLoginScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1", ConfirmPassword: "secret1"})
	require.NoError(t, err)

	_, err = f.auth.Register(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "secret2", ConfirmPassword: "secret2"})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = f.auth.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@x.com", Password: "secret2", ConfirmPassword: "secret2"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = f.auth.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, errUnknown := f.auth.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.Equal(t, err.Error(), errUnknown.Error())

	cred, err := f.auth.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id, cred.ID)
	assert.False(t, cred.LastLogin.IsZero())

	user, err := f.auth.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.DisplayName)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]RegisterInput{
		"empty username":  {Username: " ", Email: "a@x.com", Password: "secret1", ConfirmPassword: "secret1"},
		"long username":   {Username: strings.Repeat("u", 51), Email: "a@x.com", Password: "secret1", ConfirmPassword: "secret1"},
		"bad email":       {Username: "bob", Email: "bob-at-x", Password: "secret1", ConfirmPassword: "secret1"},
		"short password":  {Username: "bob", Email: "b@x.com", Password: "12345", ConfirmPassword: "12345"},
		"long password":   {Username: "bob", Email: "b@x.com", Password: strings.Repeat("p", 73), ConfirmPassword: strings.Repeat("p", 73)},
		"mismatch":        {Username: "bob", Email: "b@x.com", Password: "secret1", ConfirmPassword: "secret2"},
		"script username": {Username: "<script>x</script>", Email: "b@x.com", Password: "secret1", ConfirmPassword: "secret1"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.auth.Register(ctx, in)
			require.Error(t, err)
			assert.True(t, IsValidation(err), err.Error())
		})
	}

	_, err := f.creds.FindByUsername(ctx, "bob")
	assert.Error(t, err)
}

func TestAuthService_LegacyHashMigratesOnLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cred := &model.Credential{Username: "legacy", Email: "legacy@x.com", PasswordHash: hash.LegacyDigest("oldpass1")}
	require.NoError(t, f.creds.Register(ctx, cred, "legacy"))

	_, err := f.auth.Login(ctx, "legacy", "wrongpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	stored, err := f.creds.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, hash.LegacyDigest("oldpass1"), stored.PasswordHash)

	got, err := f.auth.Login(ctx, "legacy", "oldpass1")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)

	stored, err = f.creds.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, hash.SchemeBcrypt, f.verifier.DetectScheme(stored.PasswordHash))
	assert.NotEqual(t, hash.LegacyDigest("oldpass1"), stored.PasswordHash)

	// 第二次登录走 bcrypt 路径，哈希不再变化
	_, err = f.auth.Login(ctx, "legacy", "oldpass1")
	require.NoError(t, err)
	again, err := f.creds.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.PasswordHash, again.PasswordHash)
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, _ := f.register(t, "alice")

	assert.ErrorIs(t, f.auth.ChangePassword(ctx, id, "wrong1", "newpass1"), ErrWrongPassword)
	assert.ErrorIs(t, f.auth.ChangePassword(ctx, 9999, "secret1", "newpass1"), ErrUserNotFound)
	err := f.auth.ChangePassword(ctx, id, "secret1", "123")
	assert.True(t, IsValidation(err))

	require.NoError(t, f.auth.ChangePassword(ctx, id, "secret1", "newpass1"))
	_, err = f.auth.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, "alice", "newpass1")
	assert.NoError(t, err)
}

func TestAuthService_ChangePasswordAcceptsLegacyOldPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred := &model.Credential{Username: "legacy", Email: "legacy@x.com", PasswordHash: hash.LegacyDigest("oldpass1")}
	require.NoError(t, f.creds.Register(ctx, cred, "legacy"))

	require.NoError(t, f.auth.ChangePassword(ctx, cred.ID, "oldpass1", "newpass1"))
	stored, err := f.creds.FindByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, hash.SchemeBcrypt, f.verifier.DetectScheme(stored.PasswordHash))
}

func TestAuthService_UpdateProfilePartial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, _ := f.register(t, "alice")

	name := "Alice A."
	user, err := f.auth.UpdateProfile(ctx, id, model.ProfileUpdate{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", user.DisplayName)

	prefs := `{"lang":"en"}`
	user, err = f.auth.UpdateProfile(ctx, id, model.ProfileUpdate{Preferences: &prefs})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", user.DisplayName)
	assert.Equal(t, prefs, user.Preferences)

	_, err = f.auth.UpdateProfile(ctx, 9999, model.ProfileUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthService_DeactivateBlocksLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice")

	require.NoError(t, f.auth.Deactivate(ctx, "alice"))
	_, err := f.auth.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, f.auth.Deactivate(ctx, "alice"), ErrUserNotFound)
}
