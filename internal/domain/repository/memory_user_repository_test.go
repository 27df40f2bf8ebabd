package repository

import (
	"context"
	"testing"

	"consentido_auth/internal/common"
	"consentido_auth/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	repo := NewMemoryUserRepository()
	ctx := context.Background()

	user := &model.User{Username: "ana", Email: "a@x.com", HashedPassword: "h", Role: model.RoleUser}
	require.NoError(t, repo.Create(ctx, user))
	assert.Equal(t, int64(1), user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	exists, err := repo.ExistsByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := repo.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "h", found.HashedPassword)

	err = repo.Create(ctx, &model.User{Username: "ana", Email: "other@x.com"})
	assert.ErrorIs(t, err, common.ErrConflict)

	require.NoError(t, repo.Delete(ctx, "ana"))
	_, err = repo.FindByUsername(ctx, "ana")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "ana"), common.ErrNotFound)
}

func TestMemoryUserRepository_ReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := NewMemoryUserRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.User{Username: "ana", Email: "a@x.com"}))

	found, err := repo.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	found.Email = "changed@x.com"

	again, err := repo.FindByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", again.Email)
}
