package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryCandidates_EnvFirst(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/custom/libonnxruntime.so")
	c := LibraryCandidates(false)
	require.NotEmpty(t, c)
	assert.Equal(t, "/custom/libonnxruntime.so", c[0])
}

func TestLibraryCandidates_GPUFirstAfterEnv(t *testing.T) {
	t.Setenv(EnvLibraryPath, "")
	name, err := libraryName()
	if err != nil {
		t.Skip(err)
	}
	c := LibraryCandidates(true)
	require.NotEmpty(t, c)
	assert.Equal(t, filepath.Join("/opt/onnxruntime/gpu/lib", name), c[0])
	assert.NotContains(t, LibraryCandidates(false), c[0])
}

func TestFindProjectRoot(t *testing.T) {
	root, err := findProjectRoot()
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, statErr)
}

func TestSetONNXLibraryPath_UsesExistingCandidate(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "libonnxruntime-test.so")
	require.NoError(t, os.WriteFile(lib, nil, 0o600))
	t.Setenv(EnvLibraryPath, lib)

	got, err := SetONNXLibraryPath(false)
	require.NoError(t, err)
	assert.Equal(t, lib, got)
}
