package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmgo/gojvm-core/pkg/classload"
)

func TestNewObjectStartsWithNoFields(t *testing.T) {
	reg := classload.NewRegistry(nil, nil)
	cls, err := reg.Load("java/lang/Object")
	require.NoError(t, err)

	obj := NewObject(cls)
	assert.Same(t, cls, obj.Class)
	assert.Empty(t, obj.Fields)
}

func TestNewArrayZeroFills(t *testing.T) {
	arr := NewArray(ArrayInt, 3, nil)
	assert.Equal(t, int32(3), arr.Length())
	for _, v := range arr.Elements {
		assert.Equal(t, int32(0), v.Int())
	}

	refArr := NewArray(ArrayReference, 2, nil)
	for _, v := range refArr.Elements {
		assert.True(t, v.IsNull())
	}
}

func TestNewarrayKindFromAtype(t *testing.T) {
	kind, ok := NewarrayKind(10)
	require.True(t, ok)
	assert.Equal(t, ArrayInt, kind)

	_, ok = NewarrayKind(99)
	assert.False(t, ok)
}
