package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{256, 1344},
		{416, 3549},
		{640, 8400},
		{224, 1029},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AnchorCount(tt.size), "input size %d", tt.size)
	}
}

func TestValidateInputSize(t *testing.T) {
	require.NoError(t, ValidateInputSize(256))
	require.NoError(t, ValidateInputSize(224))
	assert.Error(t, ValidateInputSize(0))
	assert.Error(t, ValidateInputSize(250))
}

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name           string
		explicitDir    string
		envVar         string
		expectedResult string
	}{
		{
			name:           "explicit directory takes precedence",
			explicitDir:    "/explicit/path",
			envVar:         "/env/path",
			expectedResult: "/explicit/path",
		},
		{
			name:           "environment variable used when no explicit dir",
			envVar:         "/env/path",
			expectedResult: "/env/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.envVar)
			assert.Equal(t, tt.expectedResult, GetModelsDir(tt.explicitDir))
		})
	}
}

func TestResolveModelPath_PrefersOrganizedLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, TypeDigits), 0o755))
	organized := filepath.Join(dir, TypeDigits, Digits640)
	require.NoError(t, os.WriteFile(organized, []byte("x"), 0o600))

	assert.Equal(t, organized, GetDigitModelPath(dir, Digits640))
	assert.Equal(t, filepath.Join(dir, Indicator224), GetIndicatorModelPath(dir, ""))
	assert.Equal(t, filepath.Join(dir, Digits256), GetDigitModelPath(dir, ""))
}

func TestResolveModelPath_AbsoluteFilename(t *testing.T) {
	assert.Equal(t, "/opt/m.onnx", ResolveModelPath("/models", TypeDigits, "/opt/m.onnx"))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.Len(t, list, 4)

	m, ok := LookupModel("/some/dir/" + Indicator224)
	require.True(t, ok)
	assert.Equal(t, 6, m.Planes())
	assert.Equal(t, 1029, m.AnchorCount)

	m, ok = LookupModel(Digits256)
	require.True(t, ok)
	assert.Equal(t, 14, m.Planes())
	assert.Equal(t, 1344, m.AnchorCount)

	_, ok = LookupModel("unknown.onnx")
	assert.False(t, ok)
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "m.onnx")
	assert.Error(t, ValidateModelExists(p))
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	assert.NoError(t, ValidateModelExists(p))
}
