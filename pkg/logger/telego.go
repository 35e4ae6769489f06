package logger

import (
	"fmt"
	"strings"
)

// BotLogger satisfies telego's Logger interface (Debugf/Errorf) and routes Bot
// API client logs through the process logger. The bot token is replaced in
// every line because telego logs request URLs.
type BotLogger struct {
	component string
	replacer  *strings.Replacer
}

// NewBotLogger returns a telego logger tagged with component.
func NewBotLogger(component, token string) *BotLogger {
	l := &BotLogger{component: component}
	if token != "" {
		l.replacer = strings.NewReplacer(token, "BOT_TOKEN")
	}
	return l
}

func (l *BotLogger) redact(s string) string {
	if l.replacer == nil {
		return s
	}
	return l.replacer.Replace(s)
}

func (l *BotLogger) Debugf(format string, args ...any) {
	if GetLevel() > DEBUG {
		return
	}
	DebugC(l.component, l.redact(fmt.Sprintf(format, args...)))
}

func (l *BotLogger) Errorf(format string, args ...any) {
	ErrorC(l.component, l.redact(fmt.Sprintf(format, args...)))
}
