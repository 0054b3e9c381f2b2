package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, defaultRPCListen, cfg.RPCListen)
	require.Equal(t, defaultControlLen, cfg.ControllerPrefixLen)
	require.NotNil(t, cfg.BaseNet)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-rpc-listen=unix:///tmp/fibbingd.sock", "-controller-prefix-len=28"})
	require.NoError(t, err)
	require.Equal(t, "unix:///tmp/fibbingd.sock", cfg.RPCListen)
	require.Equal(t, 28, cfg.ControllerPrefixLen)
}

func TestLoadRejectsBadBaseNet(t *testing.T) {
	_, err := Load([]string{"-base-net=not-a-cidr"})
	require.Error(t, err)
}
