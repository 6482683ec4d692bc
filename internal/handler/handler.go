// Package handler holds helpers shared by the HTTP handlers in its
// subpackages.
package handler

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
	"github.com/jwalitptl/medilink-api/pkg/validator"
)

// BindJSON binds the request body into obj. On failure it writes a 400 and
// returns false.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs playground.ValidationErrors
		if errors.As(err, &verrs) {
			httputil.RespondWithError(c, apperrors.Validation(validator.Humanize(err).Error(), err))
			return false
		}
		httputil.RespondWithError(c, apperrors.Validation("Invalid request body", err))
		return false
	}
	return true
}

// DecodeStrict decodes a JSON body rejecting fields obj does not declare.
func DecodeStrict(r io.Reader, obj interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
