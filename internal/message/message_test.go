package message

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shhac/switchboard/internal/domain"
	apperrors "github.com/shhac/switchboard/internal/errors"
)

func nopHandler(context.Context, []any) ([]any, error) { return nil, nil }

func TestFieldNames(t *testing.T) {
	tests := []struct {
		name   string
		method *domain.Method
		want   []string
	}{
		{
			name:   "no outputs",
			method: domain.MustMethod("ping", nopHandler),
			want:   nil,
		},
		{
			name:   "single output uses method name",
			method: domain.MustMethod("echo", nopHandler, domain.WithReturns(domain.String)),
			want:   []string{"echoResult"},
		},
		{
			name:   "single output with override",
			method: domain.MustMethod("echo", nopHandler, domain.WithReturns(domain.String), domain.WithOutputName("text")),
			want:   []string{"text"},
		},
		{
			name:   "composite is positional",
			method: domain.MustMethod("multi", nopHandler, domain.WithReturns(domain.String, domain.String, domain.String)),
			want:   []string{"multiResult0", "multiResult1", "multiResult2"},
		},
		{
			name: "composite with output name prefix",
			method: domain.MustMethod("multi", nopHandler,
				domain.WithReturns(domain.String, domain.Integer),
				domain.WithOutputName("out"),
			),
			want: []string{"out0", "out1"},
		},
		{
			name: "explicit names win",
			method: domain.MustMethod("divmod", nopHandler,
				domain.WithReturns(domain.Integer, domain.Integer),
				domain.WithOutputName("ignored"),
				domain.WithOutputNames("quotient", "remainder"),
			),
			want: []string{"quotient", "remainder"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FieldNames(tt.method)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	m := domain.MustMethod("multi", nopHandler,
		domain.WithReturns(domain.String, domain.String, domain.String),
	)

	c, err := Wrap([]any{"a", "b", "c"}, m)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"multiResult0", "multiResult1", "multiResult2"}, c.Names())

	values, err := Unwrap(c, m)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, values)
}

func TestUnwrap_ReorderedFields(t *testing.T) {
	m := domain.MustMethod("multi", nopHandler,
		domain.WithReturns(domain.String, domain.String, domain.String),
	)

	// A decoder may hand fields back in any order.
	c, err := NewComposite(
		Field{Name: "multiResult2", Value: "c"},
		Field{Name: "multiResult0", Value: "a"},
		Field{Name: "multiResult1", Value: "b"},
	)
	require.NoError(t, err)

	values, err := Unwrap(c, m)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, values)
}

func TestWrap_ArityMismatch(t *testing.T) {
	m := domain.MustMethod("multi", nopHandler, domain.WithReturns(domain.String, domain.String))

	_, err := Wrap([]any{"only one"}, m)
	require.Error(t, err)

	var arityErr *apperrors.ArityMismatchError
	require.ErrorAs(t, err, &arityErr)
	assert.Equal(t, apperrors.DirectionOutput, arityErr.Direction)
	assert.Equal(t, 2, arityErr.Want)
	assert.Equal(t, 1, arityErr.Got)
}

func TestUnwrap_Errors(t *testing.T) {
	m := domain.MustMethod("multi", nopHandler, domain.WithReturns(domain.String, domain.String))

	t.Run("nil composite", func(t *testing.T) {
		_, err := Unwrap(nil, m)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
	})

	t.Run("wrong field count", func(t *testing.T) {
		c, err := NewComposite(Field{Name: "multiResult0", Value: "a"})
		require.NoError(t, err)
		_, err = Unwrap(c, m)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
	})

	t.Run("unknown field name", func(t *testing.T) {
		c, err := NewComposite(
			Field{Name: "multiResult0", Value: "a"},
			Field{Name: "other", Value: "b"},
		)
		require.NoError(t, err)
		_, err = Unwrap(c, m)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
	})
}

func TestNewComposite_DuplicateField(t *testing.T) {
	_, err := NewComposite(Field{Name: "x", Value: 1}, Field{Name: "x", Value: 2})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDescriptor)
}

func TestPackUnpack(t *testing.T) {
	none := domain.MustMethod("ping", nopHandler)
	single := domain.MustMethod("echo", nopHandler, domain.WithReturns(domain.String))
	multi := domain.MustMethod("multi", nopHandler, domain.WithReturns(domain.String, domain.Integer))

	t.Run("zero outputs", func(t *testing.T) {
		payload, err := Pack(nil, none)
		require.NoError(t, err)
		assert.Nil(t, payload)

		values, err := Unpack(payload, none)
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("single output is not wrapped", func(t *testing.T) {
		payload, err := Pack([]any{"hey"}, single)
		require.NoError(t, err)
		assert.Equal(t, "hey", payload)

		values, err := Unpack(payload, single)
		require.NoError(t, err)
		assert.Equal(t, []any{"hey"}, values)
	})

	t.Run("composite", func(t *testing.T) {
		payload, err := Pack([]any{"a", 1}, multi)
		require.NoError(t, err)
		c, ok := payload.(*Composite)
		require.True(t, ok)
		v, ok := c.Get("multiResult1")
		require.True(t, ok)
		assert.Equal(t, 1, v)

		values, err := Unpack(payload, multi)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", 1}, values)
	})

	t.Run("wrong arity", func(t *testing.T) {
		_, err := Pack([]any{"a"}, none)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
		_, err = Pack(nil, single)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
	})

	t.Run("composite payload of wrong type", func(t *testing.T) {
		_, err := Unpack("not a composite", multi)
		assert.ErrorIs(t, err, apperrors.ErrArityMismatch)
	})
}

func TestComposite_FieldsIsCopy(t *testing.T) {
	c, err := NewComposite(Field{Name: "a", Value: 1})
	require.NoError(t, err)
	fields := c.Fields()
	fields[0].Value = 2
	v, _ := c.Get("a")
	assert.Equal(t, 1, v)
}
