package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDeployFailure(t *testing.T) {
	dir := t.TempDir()
	cfg, err := readConfig(t, fmt.Sprintf("data_dir: %s\nfleet_dir: %s\nlog_level: error\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "servers")))
	require.NoError(t, err)

	savedConfig, savedFatalf := config, logFatalf
	t.Cleanup(func() {
		config, logFatalf = savedConfig, savedFatalf
	})
	config = cfg

	var (
		fatal     string
		reopenErr error
	)
	logFatalf = func(format string, args ...interface{}) {
		fatal = fmt.Sprintf(format, args...)

		// the index directory is locked for as long as the app stays open
		b, err := openApp(context.Background(), cfg, nil)
		reopenErr = err
		if err == nil {
			b.Close()
		}
	}

	t.Run("should close the app before exiting", func(t *testing.T) {
		runDeploy("deploy", func(*app) deployFunc {
			return func(context.Context, string, string, string) (deploy.Report, error) {
				return deploy.Report{}, errors.New("transport down")
			}
		})

		assert.Contains(t, fatal, "transport down")
		require.NoError(t, reopenErr)
	})
}
