package webserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/airsense-india/airsense/src/core"
	"github.com/airsense-india/airsense/src/forecast"
)

// statusOf maps the engine's error taxonomy onto HTTP.
func statusOf(err error) int {
	var (
		ve *core.ValidationError
		dv *core.DuplicateVoteError
		sv *core.SelfVoteError
		rc *core.ReportClosedError
		ip *core.InvalidPolicyError
		id *core.IncompleteDataError
		ir *core.InvalidReadingError
		se *core.StorageError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &dv), errors.As(err, &sv), errors.As(err, &rc):
		return http.StatusConflict
	case errors.As(err, &ip), errors.As(err, &id), errors.As(err, &ir):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forecast.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, forecast.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &se):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusOf(err)
	body := gin.H{"err": err.Error()}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	if status == http.StatusServiceUnavailable || status == http.StatusInternalServerError {
		body["err"] = http.StatusText(status)
	}
	c.JSON(status, body)
}

var jsonFieldNames sync.Once

// useJSONFieldNames makes binding errors name fields by their json key.
func useJSONFieldNames() {
	jsonFieldNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// respondBindError reports a request body that failed to decode or to pass
// its binding tags as a validation error on the first offending field.
func respondBindError(c *gin.Context, err error) {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		respondError(c, &core.ValidationError{Field: fe.Field(), Reason: reason})
		return
	}
	respondError(c, &core.ValidationError{Field: "body", Reason: err.Error()})
}

func paramID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid " + name, "field": name})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid " + name, "field": name})
		return 0, false
	}
	return n, true
}
