package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_配置解析(t *testing.T) {
	t.Run("无效级别回退到info", func(t *testing.T) {
		l := New(Config{Level: "verbose"})
		assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	})

	t.Run("json格式带组件字段", func(t *testing.T) {
		l := New(Config{Level: "DEBUG", Format: "json"})
		var buf bytes.Buffer
		l.SetOutput(&buf)
		l.WithField("component", "repair").Debug("pass done")

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "repair", line["component"])
		assert.Equal(t, "pass done", line["msg"])
	})

	t.Run("输出到文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		l := New(Config{Output: path})
		l.Info("hello")
		assert.FileExists(t, path)
	})
}

func TestWithComponent(t *testing.T) {
	Init(Config{Level: "warn"})
	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	WithComponent("history").Warn("slow fetch")
	assert.Contains(t, buf.String(), "component=history")

	SetLevel("error")
	assert.Equal(t, logrus.ErrorLevel, GetLogger().GetLevel())
}
