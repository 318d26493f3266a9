package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/jmigdelacruz/dlcmeals/board"
	"github.com/jmigdelacruz/dlcmeals/domain"
	"github.com/jmigdelacruz/dlcmeals/storage"
)

const (
	taskBodyMaxSize  = 1 << 20
	imageBodyMaxSize = 10 << 20
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, images Images, auth Authenticator, logger *log.Logger) {
	e.GET("/api/board", getBoard(boards, auth, logger))
	e.POST("/api/board/week/next", stepWeek(boards, auth, true))
	e.POST("/api/board/week/prev", stepWeek(boards, auth, false))
	e.POST("/api/board/view", setView(boards, auth))

	e.GET("/api/tasks", getTasks(boards, auth))
	e.POST("/api/tasks", saveTask(boards, auth))
	e.PATCH("/api/tasks/:id", updateTask(boards, auth))
	e.DELETE("/api/tasks/:id", deleteTask(boards, auth))
	e.POST("/api/tasks/:id/move", moveTask(boards, auth))

	e.POST("/api/images", uploadImage(images, auth))
	e.DELETE("/api/images", deleteImage(images, auth))

	e.GET("/api/stream", streamBoard(boards, auth))
	e.GET("/healthz", healthz())
}

type boardResponse struct {
	WeekStart  string                   `json:"weekStart"`
	ActiveView string                   `json:"activeView"`
	Columns    map[string][]domain.Task `json:"columns"`
}

func boardState(b *board.Board) boardResponse {
	return boardResponse{
		WeekStart:  b.WeekStart().Format(domain.DateLayout),
		ActiveView: b.ActiveView(),
		Columns:    b.Buckets(),
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		b, release, acquireErr := boards.Acquire(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if acquireErr != nil {
			metrics.SetErrorStage("board")
			c.Logger().Error(acquireErr)
			err = c.String(http.StatusInternalServerError, acquireErr.Error())
			return err
		}
		defer release()

		resp := boardState(b)
		metrics.SetTasksReturned(countTasks(resp.Columns))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func countTasks(columns map[string][]domain.Task) int {
	n := 0
	for _, col := range columns {
		n += len(col)
	}
	return n
}

func stepWeek(boards Boards, auth Authenticator, forward bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		if forward {
			b.AdvanceWeek()
		} else {
			b.RetreatWeek()
		}
		return c.JSON(http.StatusOK, boardState(b))
	}
}

func setView(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		var body struct {
			View string `json:"view"`
		}
		if err := decodeBody(c, taskBodyMaxSize, &body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		b.SetActiveView(body.View)
		return c.JSON(http.StatusOK, boardState(b))
	}
}

func getTasks(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()
		return c.JSON(http.StatusOK, b.Tasks())
	}
}

func saveTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		var input domain.Task
		if err := decodeBody(c, taskBodyMaxSize, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		id, err := b.SaveTask(c.Request().Context(), input)
		if err != nil {
			return taskError(c, err)
		}
		status := http.StatusOK
		if input.ID == "" {
			status = http.StatusCreated
		}
		return c.JSON(status, map[string]string{"id": id})
	}
}

func updateTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		var upd domain.TaskUpdate
		if err := decodeBody(c, taskBodyMaxSize, &upd); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := b.UpdateTask(c.Request().Context(), c.Param("id"), upd); err != nil {
			return taskError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		if err := b.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
			return taskError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, release, err := acquireBoard(c, boards, auth)
		if err != nil {
			return err
		}
		defer release()

		var mv board.Move
		if err := decodeBody(c, taskBodyMaxSize, &mv); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		mv.TaskID = c.Param("id")
		if err := b.MoveTask(c.Request().Context(), mv); err != nil {
			return taskError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func uploadImage(images Images, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		fh, err := c.FormFile("image")
		if err != nil {
			return c.String(http.StatusBadRequest, "missing image file")
		}
		if fh.Size > imageBodyMaxSize {
			return c.String(http.StatusRequestEntityTooLarge, "image too large")
		}
		f, err := fh.Open()
		if err != nil {
			return c.String(http.StatusBadRequest, "unreadable image file")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, imageBodyMaxSize))
		if err != nil {
			return c.String(http.StatusBadRequest, "unreadable image file")
		}

		stored, err := images.Upload(c.Request().Context(), data, fh.Filename, fh.Header.Get(echo.HeaderContentType))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "image upload failed")
		}
		return c.JSON(http.StatusCreated, stored)
	}
}

func deleteImage(images Images, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(c, taskBodyMaxSize, &body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := images.Delete(c.Request().Context(), body.URL); err != nil {
			if errors.Is(err, storage.ErrInvalidImageRef) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "image delete failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// acquireBoard authenticates the request and checks the user's board out of
// the manager. On failure the response is already written and the returned
// error is non-nil; callers must invoke the release function otherwise.
func acquireBoard(c echo.Context, boards Boards, auth Authenticator) (*board.Board, func(), error) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		_ = c.String(http.StatusUnauthorized, err.Error())
		return nil, nil, err
	}
	b, release, err := boards.Acquire(c.Request().Context(), userID)
	if err != nil {
		c.Logger().Error(err)
		_ = c.String(http.StatusInternalServerError, err.Error())
		return nil, nil, err
	}
	return b, release, nil
}

func decodeBody(c echo.Context, limit int64, v any) error {
	lr := io.LimitReader(c.Request().Body, limit)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func taskError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTask):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTaskNotFound):
		return c.String(http.StatusNotFound, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}
