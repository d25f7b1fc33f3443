package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/qaflow/internal/config"
)

// Secret creates a field for a config.Secret that records only its length.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive fields.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields map[string]bool
	redactRegex  []*regexp.Regexp
}

// NewRedactingEncoder wraps an encoder with redaction rules.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:      base,
		redactFields: fields,
		redactRegex:  patterns,
	}, nil
}

func (e *RedactingEncoder) sensitive(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

func (e *RedactingEncoder) scrub(val string) string {
	for _, re := range e.redactRegex {
		val = re.ReplaceAllString(val, "[REDACTED]")
	}
	return val
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddString(key, e.scrub(val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry scrubs the message and error strings before delegating.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, in []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.scrub(ent.Message)
	fields := make([]zapcore.Field, len(in))
	copy(fields, in)
	for i := range fields {
		f := &fields[i]
		if e.sensitive(f.Key) {
			*f = zap.String(f.Key, "[REDACTED]")
			continue
		}
		switch f.Type {
		case zapcore.StringType:
			f.String = e.scrub(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				*f = zap.String(f.Key, e.scrub(err.Error()))
			}
		}
	}
	return e.Encoder.EncodeEntry(ent, fields)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		redactFields: e.redactFields,
		redactRegex:  e.redactRegex,
	}
}
