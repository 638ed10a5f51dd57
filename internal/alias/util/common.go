package util

import (
	"io"

	"go.uber.org/zap"
)

// CloseQuietly closes c on an error path where the close error can only be
// logged.
func CloseQuietly(c io.Closer, log *zap.Logger) {
	if err := c.Close(); err != nil && log != nil {
		log.Warn("close failed", zap.Error(err))
	}
}
