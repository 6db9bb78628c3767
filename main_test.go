package kernos

import (
	"os"
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logtest.Init(m)
	os.Exit(m.Run())
}

// boot returns a started kernel whose initial thread is the test
// goroutine. Kernels are not shut down between tests; a finished test
// leaves only the idle thread parked.
func boot(t *testing.T, opts Options) *Kernel {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logtest.Scoped(t)
	}
	k, err := New(opts)
	require.NoError(t, err)
	k.Start()
	return k
}
