package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Request) (any, error) { return nil, nil }

func TestNewActionTable(t *testing.T) {
	table, err := NewActionTable(
		Action{Name: "say", Help: "Say something.", Handler: noop},
		Action{Name: "delete_file", Policy: Conditional, Handler: noop},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	a, ok := table.Lookup("delete_file")
	require.True(t, ok)
	assert.Equal(t, Conditional, a.Policy)

	_, ok = table.Lookup("missing")
	assert.False(t, ok)

	infos := table.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "delete_file", infos[0].Name)
	assert.Equal(t, "say", infos[1].Name)
}

func TestNewActionTable_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
	}{
		{"empty name", []Action{{Name: " ", Handler: noop}}},
		{"helper name", []Action{{Name: "_internal", Handler: noop}}},
		{"nil handler", []Action{{Name: "say"}}},
		{"duplicate", []Action{{Name: "say", Handler: noop}, {Name: "say", Handler: noop}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewActionTable(tt.actions...)
			assert.True(t, errors.Is(err, ErrInvalidAction), "got %v", err)
		})
	}
}

func TestActionTable_WithDefaults(t *testing.T) {
	custom := func(context.Context, *Request) (any, error) { return "custom", nil }
	table, err := NewActionTable(Action{Name: "discover", Handler: custom})
	require.NoError(t, err)

	merged := table.withDefaults(
		Action{Name: "discover", Handler: noop},
		Action{Name: "return", Handler: noop},
	)
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, 1, table.Len(), "the original table is untouched")

	a, _ := merged.Lookup("discover")
	v, _ := a.Handler(context.Background(), nil)
	assert.Equal(t, "custom", v, "declared actions override defaults")
}

func TestAccessPolicy(t *testing.T) {
	for _, s := range []string{"permitted", "allow", "Denied", "deny", "conditional", "requested"} {
		_, err := ParseAccessPolicy(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseAccessPolicy("maybe")
	assert.Error(t, err)

	data, err := json.Marshal(ActionInfo{Name: "write_file", Policy: Conditional})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"write_file","policy":"conditional"}`, string(data))

	var info ActionInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, Conditional, info.Policy)
	assert.Equal(t, "AccessPolicy(9)", AccessPolicy(9).String())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeUnroutableDestination, ErrorCode(ErrUnroutableDestination))
	assert.Equal(t, CodeMailboxFull, ErrorCode(errors.Join(errors.New("x"), ErrMailboxFull)))
	assert.Equal(t, CodeTransportFailure, ErrorCode(ErrTransportFailure))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("other")))
	assert.Equal(t, CodePermissionDenied, ErrorCode(&DispatchError{Code: CodePermissionDenied, Err: errors.New("no")}))

	de := &DispatchError{Code: CodeHandlerFailure, Action: "say", EnvelopeID: "1", Err: ErrHandlerFailure}
	assert.ErrorIs(t, de, ErrHandlerFailure)
	assert.Contains(t, de.Error(), "dispatch say (1)")
}
