package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log 全局logger实例
var Log *logrus.Logger

// Init 初始化全局logger
// level为空或无效时回退到info；logFile非空时同时写入文件，
// 文件打开失败降级为仅终端输出
func Init(level string, logFile string) {
	Log = logrus.New()

	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	Log.SetLevel(lv)

	// 固定使用彩色文本格式
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})

	Log.SetOutput(os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			Log.Warnf("打开日志文件失败，仅输出到终端: %v", err)
			return
		}
		Log.SetOutput(io.MultiWriter(os.Stdout, f))
	}
}

func init() {
	// 保证未调用Init时Log也可用（测试场景）
	Log = logrus.New()
	Log.SetLevel(logrus.InfoLevel)
}
