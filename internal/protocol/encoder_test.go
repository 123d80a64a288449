package protocol

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winder-service/internal/model"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  model.Command
		want string
	}{
		{name: "start", cmd: model.StartCommand(), want: "CMD:START\n"},
		{name: "stop", cmd: model.StopCommand(), want: "CMD:STOP\n"},
		{name: "reset", cmd: model.ResetCommand(), want: "CMD:RESET\n"},
		{
			name: "configure",
			cmd:  model.ConfigureCommand(100, 800, decimal.RequireFromString("0.5")),
			want: "CFG:E100;R800;D0.50\n",
		},
		{
			name: "configure rounds half away from zero",
			cmd:  model.ConfigureCommand(2500, 1200, decimal.RequireFromString("0.125")),
			want: "CFG:E2500;R1200;D0.13\n",
		},
		{
			name: "configure whole millimetres",
			cmd:  model.ConfigureCommand(1, 60, decimal.NewFromInt(2)),
			want: "CFG:E1;R60;D2.00\n",
		},
		{
			name: "configure from float",
			cmd:  model.ConfigureCommand(300, 900, decimal.NewFromFloat(0.35)),
			want: "CFG:E300;R900;D0.35\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, strings.Count(got, "\n"))
			assert.True(t, strings.HasSuffix(got, "\n"))
		})
	}
}

func TestEncodeUnknownCommand(t *testing.T) {
	_, err := Encode(model.Command{Type: "JOG"})
	require.Error(t, err)
}

func TestEnsureTerminated(t *testing.T) {
	assert.Equal(t, "CMD:START\n", EnsureTerminated("CMD:START"))
	assert.Equal(t, "CMD:START\n", EnsureTerminated("CMD:START\n"))
	assert.Equal(t, "\n", EnsureTerminated(""))

	encoded, err := Encode(model.StopCommand())
	require.NoError(t, err)
	assert.Equal(t, encoded, EnsureTerminated(encoded))
}
