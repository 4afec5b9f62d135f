package brand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestStore_SetAndGet(t *testing.T) {
	s := NewStore("Speak plainly.")
	assert.Equal(t, "Speak plainly.", s.Preamble())

	s.SetPreamble("Be formal.")
	assert.Equal(t, "Be formal.", s.Preamble())

	s.SetPreamble("")
	assert.Equal(t, "", s.Preamble())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore("v0")

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			s.SetPreamble("v1")
			_ = s.Preamble()
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, "v1", s.Preamble())
}
