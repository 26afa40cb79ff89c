package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ShortString is implemented by hashes and ids that have a compact form for logs.
type ShortString interface {
	ShortString() string
}

type shortStringer struct {
	ShortString
}

func (s shortStringer) String() string {
	return s.ShortString.ShortString()
}

// ZShortStringer logs the short form of val.
func ZShortStringer(key string, val ShortString) zap.Field {
	return zap.Stringer(key, shortStringer{val})
}

// Nop is an option that disables a logger.
var Nop = zap.WrapCore(func(zapcore.Core) zapcore.Core {
	return zapcore.NewNopCore()
})
