package agent

import (
	"io"
	"log/slog"
	"os"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"

	"github.com/batmaniv/batmand/wire"
)

// NewLogger builds the node's logger: a tint handler on stderr, prefixed
// with nodeID, fanned out through slog-multi to a second JSON handler on
// traceSink when one is given.
func NewLogger(nodeID wire.Address, level slog.Level, traceSink io.Writer) *slog.Logger {
	tintHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:        level,
		TimeFormat:   "15:04:05",
		CustomPrefix: nodeID.String(),
	})

	if traceSink == nil {
		return slog.New(tintHandler)
	}

	return slog.New(slogmulti.Fanout(
		tintHandler,
		slog.NewJSONHandler(traceSink, &slog.HandlerOptions{Level: level}),
	))
}
