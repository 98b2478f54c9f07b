package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redactor scrubs secret values from text.
type Redactor interface {
	RedactAll(text string) string
}

// WithRedactor returns a logger that passes the message and every string,
// stringer and error field through r before any core sees them.
func WithRedactor(logger *zap.Logger, r Redactor) *zap.Logger {
	if r == nil {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &redactingCore{Core: core, r: r}
	}))
}

type redactingCore struct {
	zapcore.Core
	r Redactor
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.scrub(fields)), r: c.r}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.r.RedactAll(ent.Message)
	return c.Core.Write(ent, c.scrub(fields))
}

func (c *redactingCore) scrub(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = c.r.RedactAll(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zap.String(f.Key, c.r.RedactAll(err.Error()))
			}
		case zapcore.StringerType:
			if s, ok := f.Interface.(fmt.Stringer); ok && s != nil {
				f = zap.String(f.Key, c.r.RedactAll(s.String()))
			}
		case zapcore.ReflectType:
			// Reflected values are flattened to text so nested strings are scrubbed too.
			f = zap.String(f.Key, c.r.RedactAll(fmt.Sprintf("%+v", f.Interface)))
		}
		out[i] = f
	}
	return out
}
