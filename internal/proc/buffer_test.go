package proc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDrainClears(t *testing.T) {
	var b LineBuffer
	b.Append(Line{Text: "a", Source: SourceStdout})
	b.Append(Line{Text: "b", Source: SourceStderr})
	require.Equal(t, 2, b.Len())

	out := b.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Text)
	assert.Equal(t, "b", out[1].Text)

	assert.Empty(t, b.Drain())
	assert.Zero(t, b.Len())
}

func TestBufferConcurrentWriters(t *testing.T) {
	var b LineBuffer
	var wg sync.WaitGroup
	for _, src := range []Source{SourceStdout, SourceStderr} {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(Line{Text: fmt.Sprintf("%s-%d", src, i), Source: src})
			}
		}(src)
	}
	wg.Wait()

	lines := b.Drain()
	require.Len(t, lines, 200)

	// Per-stream order must survive interleaving.
	next := map[Source]int{}
	for _, l := range lines {
		assert.Equal(t, fmt.Sprintf("%s-%d", l.Source, next[l.Source]), l.Text)
		next[l.Source]++
	}
}
