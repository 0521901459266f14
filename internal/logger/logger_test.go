package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env   string
		level string
		want  zapcore.Level
	}{
		{"production", "", zapcore.InfoLevel},
		{"development", "", zapcore.DebugLevel},
		{"production", "warn", zapcore.WarnLevel},
		{"development", "error", zapcore.ErrorLevel},
		{"production", "bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(st *testing.T) {
			st.Setenv("LOG_LEVEL", "")
			l, err := New(tt.env, tt.level)
			if err != nil {
				st.Fatal(err)
			}
			if got := l.Level(); got != tt.want {
				st.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	l, err := New("production", "")
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be disabled when LOG_LEVEL=error")
	}
}
