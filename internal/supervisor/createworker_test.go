package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spindle/internal/secrets/mocks"
)

func TestCreateWorker_ResolvesSecretsWhenEnvNotProvided(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	script := fakeWorkerScript(t, true)
	storage := t.TempDir()

	resolver := mocks.NewMockResolver(ctrl)
	resolver.EXPECT().
		Resolve(gomock.Any(), "api", storage).
		Return(map[string]string{"TOKEN": "secret-value"}, nil)

	s := New(resolver, script)
	handle, err := s.CreateWorker(context.Background(), WorkerConfig{URLPrefix: "api", Storage: storage})
	require.NoError(t, err)
	assert.Equal(t, "api", handle.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handle.Close(ctx))
}

func TestCreateWorker_SkipsResolverWhenEnvProvided(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	script := fakeWorkerScript(t, true)
	resolver := mocks.NewMockResolver(ctrl) // no EXPECT() calls: must not be invoked

	s := New(resolver, script)
	handle, err := s.CreateWorker(context.Background(), WorkerConfig{
		ID:      "w1",
		Storage: t.TempDir(),
		Env:     map[string]string{"TOKEN": "inline"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handle.Close(ctx))
}
