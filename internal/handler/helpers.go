package handler

import (
	"net/http"
	"reflect"

	"retailpos/internal/apierror"
	"retailpos/internal/middleware"
	"retailpos/internal/money"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

func init() {
	// Money values validate as numbers so tags like min=0 work on them.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		switch v := field.Interface().(type) {
		case money.Currency:
			f, _ := v.Decimal().Float64()
			return f
		case money.Quantity:
			f, _ := v.Decimal().Float64()
			return f
		}
		return nil
	}, money.Currency{}, money.Quantity{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails; the
// caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// fail hands err to middleware.ErrorHandler, which picks the status.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// pathID parses a uuid path parameter, writing 400 when it is malformed.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// optionalID parses an optional uuid already checked by the validator.
func optionalID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// session is the terminal session a request runs for.
type session struct {
	userID    uuid.UUID
	branchID  uuid.UUID
	stationID uuid.UUID
}

func sessionOf(c *gin.Context) (session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New("authentication required"))
		return session{}, false
	}
	userID, branchID, stationID, err := claims.IDs()
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("token is not bound to a station"))
		return session{}, false
	}
	return session{userID: userID, branchID: branchID, stationID: stationID}, true
}
