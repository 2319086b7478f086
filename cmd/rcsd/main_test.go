package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/upload"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "rcsd dev ("), out.String())
}

func TestUploadRequiresFlags(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"upload"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		explicit string
		want     string
	}{
		{name: "явный тип", file: "a.bin", explicit: "image/png", want: "image/png"},
		{name: "по расширению", file: "photo.png", want: "image/png"},
		{name: "неизвестное расширение", file: "data.zzz-unknown", want: "application/octet-stream"},
		{name: "без расширения", file: "README", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contentType(tt.file, tt.explicit))
		})
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	p := &progressPrinter{cmd: cmd}

	for sent := int64(0); sent <= 1000; sent += 50 {
		p.OnProgress(nil, sent, 1000)
	}
	p.OnProgress(nil, 10, 0)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// по строке на каждые 10% и итоговая
	assert.Len(t, lines, 10)
	assert.Equal(t, "1000/1000 bytes (100%)", lines[len(lines)-1])

	out.Reset()
	p.OnStateChanged(nil, upload.TransferTransferred, upload.ReasonUnspecified)
	assert.Contains(t, out.String(), "transfer ")
}
