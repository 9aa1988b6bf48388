package logsockd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	sink, err := OpenErrorSink(path, 1)
	require.NoError(t, err)
	defer sink.Close()

	require.Greater(t, sink.Bound(), int64(0))

	t.Run("bounded", func(t *testing.T) {
		longest := 0
		for i := 0; i < 2000; i++ {
			msg := fmt.Sprintf("record %04d %s", i, strings.Repeat("x", i%97))
			sink.LogError(msg)

			fi, err := os.Stat(path)
			require.NoError(t, err)

			// timestamp + space + msg + newline
			if l := len(msg) + 40; l > longest {
				longest = l
			}
			assert.LessOrEqual(t, fi.Size(), sink.Bound()+int64(longest))
		}
	})

	t.Run("keeps-triggering-line", func(t *testing.T) {
		for {
			fi, err := os.Stat(path)
			require.NoError(t, err)
			if fi.Size() > sink.Bound() {
				break
			}
			sink.LogError(strings.Repeat("y", 200))
		}

		sink.Printf("after truncation %d", 42)

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
		require.Len(t, lines, 1)
		assert.True(t, strings.HasSuffix(lines[0], " after truncation 42"))
	})
}
