package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nifyacorp/notification-worker/pkg/types"
)

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry(NewBOE(), NewRealEstate())
	require.NoError(t, err)

	p, err := registry.Get("boe")
	require.NoError(t, err)
	assert.Equal(t, "boe", p.Type())
	assert.True(t, p.RequiresDatabase())
}

func TestRegistryUnknownTag(t *testing.T) {
	registry, err := NewRegistry(NewBOE())
	require.NoError(t, err)

	_, err = registry.Get("foo")
	require.Error(t, err)
	assert.Equal(t, types.KindUnknownProcessor, types.KindOf(err))
}

func TestRegistryTypes(t *testing.T) {
	registry, err := NewRegistry(NewRealEstate(), NewBOE())
	require.NoError(t, err)

	assert.Equal(t, []string{"boe", "real-estate"}, registry.Types())
}

func TestRegistryDuplicateTag(t *testing.T) {
	_, err := NewRegistry(NewBOE(), NewBOE())
	assert.Error(t, err)
}
