package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ConsoleHandler formats records as a single line via zerolog, grounded
// on the teacher's ConsoleLogger (prefix, verbose flag, writer). Safe to
// use before, during, and after a run — it holds no execution state.
type ConsoleHandler struct {
	logger   zerolog.Logger
	minLevel Level
}

// ConsoleHandlerConfig mirrors the teacher's ConsoleLoggerConfig.
type ConsoleHandlerConfig struct {
	Writer   io.Writer // defaults to os.Stdout
	MinLevel Level     // defaults to LevelInfo
	Pretty   bool      // human-readable console writer instead of JSON lines
}

// NewConsoleHandler builds a ConsoleHandler from cfg.
func NewConsoleHandler(cfg ConsoleHandlerConfig) *ConsoleHandler {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	min := cfg.MinLevel
	if min == "" {
		min = LevelInfo
	}
	return &ConsoleHandler{
		logger:   zerolog.New(w).With().Timestamp().Logger(),
		minLevel: min,
	}
}

func (h *ConsoleHandler) Name() string     { return "console" }
func (h *ConsoleHandler) MinLevel() Level  { return h.minLevel }

func (h *ConsoleHandler) Handle(r Record) {
	var event *zerolog.Event
	switch r.Level {
	case LevelTrace:
		event = h.logger.Trace()
	case LevelDebug:
		event = h.logger.Debug()
	case LevelWarn:
		event = h.logger.Warn()
	case LevelError:
		event = h.logger.Error()
	case LevelFatal:
		event = h.logger.Error() // never os.Exit from a log handler
	default:
		event = h.logger.Info()
	}

	event = event.
		Str("execution_id", r.ExecutionID).
		Str("category", string(r.Category))
	if r.NodeID != "" {
		event = event.Str("node_id", r.NodeID)
	}
	if len(r.Context) > 0 {
		event = event.Interface("context", r.Context)
	}
	event.Msg(r.Message)
}
