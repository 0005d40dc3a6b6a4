package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rickgao/chatrelay/internal/model"
)

const (
	errFetchMessages  = "Error fetching messages"
	errInsertMessage  = "Error inserting message"
	errInvalidPayload = "Invalid request body"
)

type postMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleFetch(c echo.Context) error {
	messages, err := s.store.Fetch(c.Request().Context(), s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Error("fetch messages failed", "error", err)
		return c.String(http.StatusInternalServerError, errFetchMessages)
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *Server) handleAppend(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, errInvalidPayload)
	}

	msg := model.NewMessage(req.Text, s.clock.Now())
	if err := msg.Validate(); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	stored, err := s.store.Append(c.Request().Context(), msg)
	if err != nil {
		if errors.Is(err, model.ErrEmptyText) || errors.Is(err, model.ErrTextTooLong) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("insert message failed", "error", err)
		return c.String(http.StatusInternalServerError, errInsertMessage)
	}
	return c.JSON(http.StatusCreated, stored)
}
