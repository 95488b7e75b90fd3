// Package logging はzerologのロガーを設定から生成する。
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// FormatJSON は1行1JSONで出力する形式。
	FormatJSON = "json"
	// FormatConsole は人が読むための整形済み出力形式。
	FormatConsole = "console"

	// consoleTimeFormat はconsole形式の時刻表示。
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（trace, debug, info, warn, error）。
	Level string
	// Format は出力形式（json, console）。
	Format string
}

// New は設定に従ってロガーを生成する。
// 不明なレベルはinfo、不明な形式はjsonとして扱う。
func New(cfg Config, w io.Writer) zerolog.Logger {
	out := w
	if strings.EqualFold(strings.TrimSpace(cfg.Format), FormatConsole) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().
		Timestamp().
		Str("service", "notifyhub").
		Logger()
}

// ParseLevel はレベル名をzerologのレベルに変換する。不明な名前はdefを返す。
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// ValidLevel はレベル名が既知のものかを返す。
func ValidLevel(s string) bool {
	return ParseLevel(s, zerolog.NoLevel) != zerolog.NoLevel
}

// ValidFormat は出力形式が既知のものかを返す。
func ValidFormat(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case FormatJSON, FormatConsole:
		return true
	default:
		return false
	}
}
