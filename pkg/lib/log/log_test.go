package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    any
		wantErr bool
	}{
		"debug":   {in: "DEBUG", want: LevelDebug},
		"empty":   {in: "", want: LevelInfo},
		"warning": {in: "warning", want: LevelWarn},
		"error":   {in: "error", want: LevelError},
		"bad":     {in: "loud", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestLazyLogger_JSONOutput 测试组件名写入日志
func TestLazyLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "debug", Format: FormatJSON, Output: &buf}))
	t.Cleanup(func() { _ = Setup(Options{}) })

	Logger("test/comp").Debug("hello", "k", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "test/comp", rec["component"])
	assert.Equal(t, "hello", rec["msg"])
	t.Log("✅ 组件字段正确")
}

// TestSetLevel_Filters 测试动态级别过滤
func TestSetLevel_Filters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "warn", Output: &buf}))
	t.Cleanup(func() { _ = Setup(Options{}) })

	l := Logger("x")
	l.Info("dropped")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(LevelInfo))

	SetLevel(LevelInfo)
	l.Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

// TestSetup_UnknownFormat 测试未知格式
func TestSetup_UnknownFormat(t *testing.T) {
	assert.Error(t, Setup(Options{Format: "xml"}))
}

// TestNewZap_NopWhenNotDebug 测试非 debug 级别返回 Nop
func TestNewZap_NopWhenNotDebug(t *testing.T) {
	SetLevel(LevelInfo)
	assert.NotNil(t, NewZap())
}
