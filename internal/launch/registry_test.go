package launch

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/model"
)

func TestNewRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{HealthEntrypoint}, r.Names())

	ep, err := model.ParseEntrypoint(HealthEntrypoint)
	require.NoError(t, err)
	factory, err := r.Lookup(ep)
	require.NoError(t, err)
	assert.NotNil(t, factory(zerolog.Nop()))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	factory := func(zerolog.Logger) http.Handler { return http.NotFoundHandler() }

	require.NoError(t, r.Register("main:app", factory))
	assert.Equal(t, []string{"main:app", HealthEntrypoint}, r.Names())

	err := r.Register("main:app", factory)
	assert.Error(t, err, "duplicate registration must fail")

	assert.Error(t, r.Register("main", factory), "reference must be module:attr")
	assert.Error(t, r.Register("other:app", nil))
}

func TestRegistry_LookupMissing(t *testing.T) {
	_, err := NewRegistry().Lookup(model.Entrypoint{Module: "main", Attr: "app"})

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitEntrypointNotFound, cliErr.Code)
}
