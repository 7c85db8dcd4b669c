package replaysource

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silentoxygen/kpl/internal/follower"
	"github.com/silentoxygen/kpl/internal/types"
)

// TestOpenEmitsPreExistingContent guards against replaying from the end
// of the file: a static fixture file (the common CI smoke-test case) must
// have every line it already contains delivered, not just lines appended
// after the tail starts.
func TestOpenEmitsPreExistingContent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "replay-*.log")
	require.NoError(t, err)
	_, err = f.WriteString("first\nsecond\nthird\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	opener := LogOpener{Path: f.Name()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := opener.Open(ctx, types.PodKey{Namespace: "ns", Name: PodName, UID: "replay-uid-1"}, Container, follower.OpenOptions{})
	require.NoError(t, err)
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	var got []string
	for len(got) < 3 && scanner.Scan() {
		got = append(got, scanner.Text())
	}

	require.Equal(t, []string{"first", "second", "third"}, got)
}
