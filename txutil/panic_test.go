package txutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE2PandP2E(t *testing.T) {
	fn := func() (err error) {
		defer P2E(&err)
		E2P(errors.New("boom"))
		return nil
	}
	err := fn()
	assert.EqualError(t, err, "boom")
}

func TestP2ENoPanic(t *testing.T) {
	fn := func() (err error) {
		defer P2E(&err)
		return nil
	}
	assert.NoError(t, fn())
}

func TestTaggedErrorUnwrap(t *testing.T) {
	te := NewTagged(ErrLockConflict, true, "row locked")
	assert.True(t, errors.Is(te, ErrLockConflict))
	assert.Contains(t, te.Error(), "row locked")
}

func TestRecoverPanicSetsErr(t *testing.T) {
	var err error
	func() {
		defer RecoverPanic(&err)
		panic("kaboom")
	}()
	assert.EqualError(t, err, "kaboom")
}
