package storage_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/modsync/vehicle/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestErrNotFound_Wrapped(t *testing.T) {
	err := fmt.Errorf("load car-1: %w", storage.ErrNotFound)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Equal(t, "load car-1: snapshot not found", err.Error())
}
