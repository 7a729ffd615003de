package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSaveBatchEmptyIsNoop(t *testing.T) {
	// No rows means no transaction; must not touch the connection.
	s := New(nil)
	assert.NoError(t, s.SaveBatch(context.Background(), time.Now(), nil))
}

func TestOpenBadDSN(t *testing.T) {
	// sql.Open defers connection errors; a malformed DSN still fails fast.
	_, err := Open("://not-a-dsn")
	assert.Error(t, err)
}
