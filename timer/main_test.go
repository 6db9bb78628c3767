package timer

import (
	"os"
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/kernos/kernos"
)

func TestMain(m *testing.M) {
	logtest.Init(m)
	os.Exit(m.Run())
}

func boot(t *testing.T, opts Options) (*kernos.Kernel, *Device) {
	t.Helper()
	k, err := kernos.New(kernos.Options{Logger: logtest.Scoped(t)})
	require.NoError(t, err)
	if opts.Logger == nil {
		opts.Logger = logtest.Scoped(t)
	}
	d, err := New(k, opts)
	require.NoError(t, err)
	k.Start()
	return k, d
}
