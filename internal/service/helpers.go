package service

import (
	"database/sql"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

// internalErr wraps infrastructure failures with the shared internal code.
func internalErr(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// invalidPayload wraps validator failures with the shared validation code.
func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}

// loadErr maps a row lookup failure to not-found or internal.
func loadErr(err error, notFoundMsg, internalMsg string) error {
	if err == sql.ErrNoRows {
		return appErrors.Clone(appErrors.ErrNotFound, notFoundMsg)
	}
	return internalErr(err, internalMsg)
}

// pageWindow normalizes the requested page before echoing it back in
// pagination metadata. Repositories clamp independently with the same rules.
func pageWindow(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
