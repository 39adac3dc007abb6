package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EchoZapLogger возвращает middleware для Echo, которое логирует запросы с помощью zap.
func EchoZapLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.String("user_agent", req.UserAgent()),
			}
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}
			if id != "" {
				fields = append(fields, zap.String("request_id", id))
			}

			err := next(c)
			if err != nil {
				// Echo сам выставит статус через HTTPErrorHandler
				c.Error(err)
			}

			fields = append(fields,
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
			)
			if identity, ok := identityFromEcho(c); ok {
				fields = append(fields, zap.String("userID", identity.UserID))
			}

			n := res.Status
			switch {
			case err != nil && n >= http.StatusInternalServerError:
				log.Error("Handler error", append(fields, zap.Error(err))...)
			case n >= http.StatusInternalServerError:
				log.Error("Server error", fields...)
			case n >= http.StatusBadRequest:
				log.Warn("Client error", fields...)
			default:
				log.Info("Success", fields...)
			}
			return nil
		}
	}
}
