package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const goodSecret = "0123456789abcdef-cs1"

func newTestService() *Service {
	return NewService(NewMemoryRepository(), NewBcryptHasher(bcrypt.MinCost), nil)
}

func TestAddAndVerify(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.AddCredential(ctx, "CS1", goodSecret))

	assert.NoError(t, svc.Verify(ctx, "CS1", goodSecret))
	assert.ErrorIs(t, svc.Verify(ctx, "CS1", goodSecret+"x"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.Verify(ctx, "CS2", goodSecret), ErrInvalidCredentials)
}

func TestAddCredentialReplacesSecret(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.AddCredential(ctx, "CS1", goodSecret))
	require.NoError(t, svc.AddCredential(ctx, "CS1", "another-secret-0001"))

	assert.ErrorIs(t, svc.Verify(ctx, "CS1", goodSecret), ErrInvalidCredentials)
	assert.NoError(t, svc.Verify(ctx, "CS1", "another-secret-0001"))
}

func TestAddCredentialValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	assert.ErrorIs(t, svc.AddCredential(ctx, "  ", goodSecret), ErrInvalidIdentity)
	assert.ErrorIs(t, svc.AddCredential(ctx, "CS1", "short"), ErrInvalidSecret)
	assert.ErrorIs(t, svc.AddCredential(ctx, "CS1", string(make([]byte, MaxSecretLength+1))), ErrInvalidSecret)
}

type failingRepo struct{ err error }

func (f failingRepo) Upsert(context.Context, Credential) error { return f.err }
func (f failingRepo) Get(context.Context, string) (Credential, error) {
	return Credential{}, f.err
}

func TestRepositoryErrorsPropagate(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(failingRepo{err: boom}, NewBcryptHasher(bcrypt.MinCost), nil)

	assert.ErrorIs(t, svc.AddCredential(context.Background(), "CS1", goodSecret), boom)
	assert.ErrorIs(t, svc.Verify(context.Background(), "CS1", goodSecret), boom)
}
