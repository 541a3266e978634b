package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGPUConfig(t *testing.T) {
	cfg := DefaultGPUConfig()
	assert.False(t, cfg.UseGPU)
	assert.Equal(t, 0, cfg.DeviceID)
	assert.Equal(t, "kNextPowerOfTwo", cfg.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", cfg.CUDNNConvAlgoSearch)
	assert.NoError(t, ValidateGPUConfig(cfg))
}

func TestValidateGPUConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GPUConfig)
		wantErr bool
	}{
		{name: "disabled ignores bad values", mutate: func(c *GPUConfig) { c.DeviceID = -1 }},
		{name: "enabled defaults", mutate: func(c *GPUConfig) { c.UseGPU = true }},
		{name: "negative device", mutate: func(c *GPUConfig) { c.UseGPU = true; c.DeviceID = -1 }, wantErr: true},
		{name: "bad arena", mutate: func(c *GPUConfig) { c.UseGPU = true; c.ArenaExtendStrategy = "grow" }, wantErr: true},
		{name: "bad algo", mutate: func(c *GPUConfig) { c.UseGPU = true; c.CUDNNConvAlgoSearch = "FAST" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGPUConfig()
			tt.mutate(&cfg)
			err := ValidateGPUConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCUDASettings(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.DeviceID = 1
	cfg.MemoryLimit = 1 << 30

	s := cudaSettings(cfg)
	assert.Equal(t, "1", s["device_id"])
	assert.Equal(t, "1073741824", s["gpu_mem_limit"])
	assert.Equal(t, "kNextPowerOfTwo", s["arena_extend_strategy"])
	assert.Equal(t, "1", s["do_copy_in_default_stream"])
}

func TestConfigureSessionForGPU_DisabledIsNoop(t *testing.T) {
	assert.NoError(t, ConfigureSessionForGPU(nil, DefaultGPUConfig()))
}
