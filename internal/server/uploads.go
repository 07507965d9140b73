package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"medpilot/internal/storage"
)

// UploadsHandler accepts medical report files for attachment to a diagnosis.
type UploadsHandler struct {
	Uploader *storage.Uploader
}

func (h *UploadsHandler) Upload(c echo.Context) error {
	userID := c.Get("user_id").(string)
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	contentType := fh.Header.Get("Content-Type")
	meta, err := h.Uploader.Upload(c.Request().Context(), userID, fh.Filename, contentType, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, meta)
}
