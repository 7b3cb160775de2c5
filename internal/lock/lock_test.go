package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLockerWithoutClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
}

func TestNilLockerRejectsTryLock(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "subscription:user:1", time.Second)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "subscription:user:1", "token"))
}
