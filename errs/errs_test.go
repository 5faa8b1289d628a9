package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormattingIncludesFieldsAndCause(t *testing.T) {
	err := New(
		"orders",
		CodeInvalid,
		WithMessage("`display_qty` may not exceed `quantity`"),
		WithField("client_order_id", "O-1"),
		WithField("instrument_id", "ESZ24.XCME"),
		WithCause(errors.New("validation failed")),
	)

	out := err.Error()
	require.Contains(t, out, "scope=orders")
	require.Contains(t, out, "code=invalid_request")
	require.Contains(t, out, `fields=client_order_id="O-1",instrument_id="ESZ24.XCME"`)
	require.Contains(t, out, `cause="validation failed"`)
}

func TestEmptyScopeAndCodeRenderUnknown(t *testing.T) {
	err := New("  ", "")
	out := err.Error()
	require.True(t, strings.HasPrefix(out, "scope=unknown code=unknown"), out)
}

func TestWithFieldIgnoresBlankKeys(t *testing.T) {
	err := New("msgbus", CodeConflict, WithField("  ", "x"))
	require.Nil(t, err.Fields)
}

func TestIsMatchesCodeThroughWrapping(t *testing.T) {
	base := New("actor", CodeInvalidTimeRange, WithMessage("start was > now"))
	wrapped := fmt.Errorf("request quotes: %w", base)

	require.True(t, Is(wrapped, CodeInvalidTimeRange))
	require.False(t, Is(wrapped, CodeInvalid))
	require.True(t, errors.Is(wrapped, &E{Code: CodeInvalidTimeRange}))
	require.Equal(t, CodeInvalidTimeRange, CodeOf(wrapped))
}

func TestIsFollowsNestedCauses(t *testing.T) {
	inner := New("component", CodeInvalidState)
	outer := New("actor", CodeInvalid, WithCause(inner))

	require.True(t, Is(outer, CodeInvalidState))
	require.Equal(t, CodeInvalid, CodeOf(outer))
	require.False(t, Is(nil, CodeInvalid))
}
