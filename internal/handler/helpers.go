package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"turnopos/internal/apierror"
	"turnopos/internal/middleware"
	"turnopos/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(model.KindValidation.String(), "JSON invalido: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			c.JSON(http.StatusUnprocessableEntity, apierror.New(model.KindValidation.String(), err.Error()))
			return false
		}
		fields := make(map[string]string)
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// respondError writes the envelope for err. Storage and unclassified errors
// are logged with their cause, which never reaches the client.
func respondError(c *gin.Context, err error) {
	status, body := apierror.FromError(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Str("kind", body.Kind).
			Msg("request failed")
	}
	c.JSON(status, body)
}

// paramUUID parses the named path parameter, answering 422 when malformed.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, model.Validation("%s inválido", name))
		return uuid.Nil, false
	}
	return id, true
}

// actorID is the authenticated user taken from the JWT claims.
func actorID(c *gin.Context) (uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New("unauthorized", "Autenticacion requerida"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("unauthorized", "Token sin usuario valido"))
		return uuid.Nil, false
	}
	return id, true
}

const dateOnly = "2006-01-02"

// parseInstant accepts YYYY-MM-DD or RFC3339. endOfDay extends a date-only
// value to the last instant of that day.
func parseInstant(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(dateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return t, nil
}

// optionalRange reads ?from&to, leaving absent bounds nil.
func optionalRange(c *gin.Context) (desde, hasta *time.Time, ok bool) {
	if s := strings.TrimSpace(c.Query("from")); s != "" {
		t, err := parseInstant(s, false)
		if err != nil {
			respondError(c, model.Validation("from inválido: use YYYY-MM-DD o RFC3339"))
			return nil, nil, false
		}
		desde = &t
	}
	if s := strings.TrimSpace(c.Query("to")); s != "" {
		t, err := parseInstant(s, true)
		if err != nil {
			respondError(c, model.Validation("to inválido: use YYYY-MM-DD o RFC3339"))
			return nil, nil, false
		}
		hasta = &t
	}
	return desde, hasta, true
}

// reportRange is optionalRange with the report defaults: the last 30 days.
func reportRange(c *gin.Context, now time.Time) (time.Time, time.Time, bool) {
	desde, hasta, ok := optionalRange(c)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if hasta == nil {
		h := now.UTC()
		hasta = &h
	}
	if desde == nil {
		d := hasta.AddDate(0, 0, -30)
		desde = &d
	}
	return *desde, *hasta, true
}
