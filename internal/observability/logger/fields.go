package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Domain fields.

func Platform(v string) zap.Field { return zap.String("platform", v) }
func OwnerID(v string) zap.Field { return zap.String("owner_id", v) }
func AccountID(v string) zap.Field { return zap.String("account_id", v) }
func IdentityKey(v string) zap.Field {
	return zap.String("identity_key", v)
}
func Metric(v string) zap.Field { return zap.String("metric", v) }
func ItemID(v string) zap.Field { return zap.String("item_id", v) }

// System fields.

func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Op(v string) zap.Field { return zap.String("op", v) }
func Err(err error) zap.Field { return zap.Error(err) }

// Generic fields.

func Count(v int) zap.Field { return zap.Int("count", v) }
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Any(k string, v any) zap.Field { return zap.Any(k, v) }
