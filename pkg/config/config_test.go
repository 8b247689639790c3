package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsPassValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), opts)
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mercury.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 32768\nread_only: true\n"), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 32768, opts.PageSize)
	require.True(t, opts.ReadOnly)
	require.Equal(t, Defaults().WALFlushSize, opts.WALFlushSize, "fields absent from the YAML overlay must keep their default")
}

func TestLoadRejectsInvalidOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mercury.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 100\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err, "a page_size not a multiple of 4096 must fail validation")
}

func TestValidateRejectsNonPositivePageSize(t *testing.T) {
	o := Defaults()
	o.PageSize = 0
	require.Error(t, o.Validate())
}

func TestValidateRejectsPageSizeNotMultipleOf4096(t *testing.T) {
	o := Defaults()
	o.PageSize = 5000
	require.Error(t, o.Validate())
}

func TestValidateRejectsNegativeLockTimeout(t *testing.T) {
	o := Defaults()
	o.LockTimeoutMillis = -1
	require.Error(t, o.Validate())
}

func TestValidateAcceptsZeroMinFreeDiskBytes(t *testing.T) {
	o := Defaults()
	o.MinFreeDiskBytes = 0
	require.NoError(t, o.Validate())
}
