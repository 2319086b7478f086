package rtp_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/rtp"
)

func TestPortRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		ports   rtp.PortRange
		wantErr bool
	}{
		{name: "обычный диапазон", ports: rtp.PortRange{Min: 10000, Max: 20000}},
		{name: "одна пара", ports: rtp.PortRange{Min: 10000, Max: 10001}},
		{name: "привилегированные порты", ports: rtp.PortRange{Min: 1000, Max: 2000}, wantErr: true},
		{name: "выше 65535", ports: rtp.PortRange{Min: 60000, Max: 70000}, wantErr: true},
		{name: "нечетный минимум без пары", ports: rtp.PortRange{Min: 10001, Max: 10002}, wantErr: true},
		{name: "перевернутый диапазон", ports: rtp.PortRange{Min: 20000, Max: 10000}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ports.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPortPool(t *testing.T) {
	pool, err := rtp.NewPortPool(rtp.PortRange{Min: 41001, Max: 41006})
	require.NoError(t, err)

	var opened []*rtp.UDPTransport
	t.Cleanup(func() {
		for _, tr := range opened {
			tr.Close()
		}
	})

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		tr, err := pool.Listen("127.0.0.1", rtp.TransportConfig{})
		require.NoError(t, err)
		opened = append(opened, tr)

		port := tr.LocalPort()
		assert.Zero(t, port%2, "порт RTP четный")
		assert.GreaterOrEqual(t, port, 41002)
		assert.LessOrEqual(t, port+1, 41006)
		assert.False(t, seen[port])
		seen[port] = true
	}
	assert.Equal(t, 2, pool.InUse())

	t.Run("диапазон исчерпан", func(t *testing.T) {
		_, err := pool.Listen("127.0.0.1", rtp.TransportConfig{})
		assert.True(t, errors.Is(err, rtp.ErrNoFreePorts))
	})

	t.Run("закрытие возвращает порт", func(t *testing.T) {
		freed := opened[0].LocalPort()
		require.NoError(t, opened[0].Close())
		assert.Equal(t, 1, pool.InUse())

		tr, err := pool.Listen("127.0.0.1", rtp.TransportConfig{})
		require.NoError(t, err)
		opened = append(opened, tr)
		assert.Equal(t, freed, tr.LocalPort())
		assert.Equal(t, 2, pool.InUse())
	})
}
