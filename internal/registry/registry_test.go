package registry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// stubHandler is a no-op handler with a configurable kind.
type stubHandler struct {
	kind string
}

func (h *stubHandler) Kind() string {
	return h.kind
}

func (h *stubHandler) Execute(context.Context, *command.Command) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// TestRegisterAndDispatch verifies lookup of registered handlers and the
// typed error for unknown kinds.
func TestRegisterAndDispatch(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubHandler{kind: "power"})
	r.Register(&stubHandler{kind: "script"})

	handler, err := r.Dispatch("power")
	require.NoError(t, err)
	require.Equal(t, "power", handler.Kind())

	_, err = r.Dispatch("unknown")
	require.ErrorIs(t, err, command.ErrUnknownKind)

	require.Equal(t, []string{"power", "script"}, r.Kinds())
}

// TestRegister_DuplicatePanics verifies double registration is refused.
func TestRegister_DuplicatePanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubHandler{kind: "power"})

	require.Panics(t, func() {
		r.Register(&stubHandler{kind: "power"})
	})
}

// TestDispatch_ConcurrentAccess verifies dispatch is safe under concurrent
// invocation from multiple inbound commands.
func TestDispatch_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(&stubHandler{kind: "power"})

	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			handler, err := r.Dispatch("power")
			require.NoError(t, err)
			require.NotNil(t, handler)
		}()
	}

	wg.Wait()
}
