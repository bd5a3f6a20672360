package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Can be one of:
//   - Prod
//   - Dev
//   - Staging
type Enviroment int

const (
	_ Enviroment = iota
	Prod
	Dev
	Staging
)

func (e Enviroment) String() string {
	switch e {
	case Prod:
		return "prod"
	case Dev:
		return "dev"
	case Staging:
		return "staging"
	default:
		return fmt.Sprintf("Enviroment(%d)", int(e))
	}
}

// UnmarshalText lets configuration files name the enviroment.
func (e *Enviroment) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "prod", "production":
		*e = Prod
	case "dev", "development":
		*e = Dev
	case "staging":
		*e = Staging
	default:
		return fmt.Errorf("unknown enviroment: %q", text)
	}
	return nil
}

func (e Enviroment) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// NewLogger creates new slog.Logger and return pointer to it
func NewLogger(env Enviroment, addSource bool) *slog.Logger {
	var level slog.Level

	switch env {
	case Prod, Staging:
		level = slog.LevelInfo
	case Dev:
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
	})
	return slog.New(h)
}

// NewTestLogger returns logger writing human readable records into the returned buffer.
func NewTestLogger() (*bytes.Buffer, *slog.Logger) {
	b := new(bytes.Buffer)
	h := slog.NewTextHandler(b, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return b, slog.New(h)
}

func ErrAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}
