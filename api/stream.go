package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamBoard serves the live board over SSE. Every snapshot arriving on the
// user's subscription produces one full board payload; the client replaces
// its state wholesale on each event.
func streamBoard(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may ride the query.
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		b, release, err := boards.Acquire(ctx, userID)
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		defer release()

		updates, cancel := b.Watch()
		defer cancel()

		for {
			data, err := sonic.Marshal(boardState(b))
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			snapshotsStreamed.Inc()

			select {
			case <-ctx.Done():
				return nil
			case <-updates:
				continue
			}
		}
	}
}
