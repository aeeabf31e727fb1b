package txutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/galaxytx/galaxytx/logger"
)

// GetGinApp builds the admin/status gin engine: release mode, panic
// recovery, request-body logging, and a ping endpoint.
func GetGinApp() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	app := gin.New()
	app.Use(gin.Recovery())
	app.Use(func(c *gin.Context) {
		body := ""
		if c.Request.Body != nil {
			rb, err := c.GetRawData()
			E2P(err)
			if len(rb) > 0 {
				body = string(rb)
				c.Request.Body = ioutil.NopCloser(bytes.NewBuffer(rb))
			}
		}
		logger.Debugf("begin %s %s body: %s", c.Request.Method, c.Request.URL, body)
		c.Next()
	})
	app.Any("/api/ping", func(c *gin.Context) { c.JSON(200, map[string]interface{}{"msg": "pong"}) })
	return app
}

// WrapHandler adapts a function returning (interface{}) into a gin
// handler, classifying panics/errors into HTTP status codes per the
// error-handling design: ErrFailure -> 409, ErrOngoing -> 425,
// ErrGlobalNotFound -> 404, ErrGlobalNotActive -> 409, any other
// error -> 500 (so a caller retries), success -> 200.
func WrapHandler(fn func(*gin.Context) interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		var err error
		r := func() interface{} {
			defer P2E(&err)
			return fn(c)
		}()

		status := http.StatusOK
		if ne, ok := r.(error); ok && err == nil {
			err = ne
		}

		result := map[string]interface{}{}
		if err != nil {
			switch {
			case errors.Is(err, ErrFailure):
				status = http.StatusConflict
				result["result"] = "FAILURE"
			case errors.Is(err, ErrOngoing):
				status = http.StatusTooEarly
				result["result"] = "ONGOING"
			case errors.Is(err, ErrGlobalNotFound):
				status = http.StatusNotFound
				result["result"] = "NOT_FOUND"
			case errors.Is(err, ErrGlobalNotActive):
				status = http.StatusConflict
				result["result"] = "NOT_ACTIVE"
			default:
				status = http.StatusInternalServerError
			}
			result["message"] = err.Error()
			r = result
		} else if r == nil {
			result["result"] = "SUCCESS"
			r = result
		}

		b, _ := json.Marshal(r)
		logger.Infof("%dms %d %s %s %s", time.Since(began).Milliseconds(), status, c.Request.Method, c.Request.RequestURI, string(b))
		c.JSON(status, r)
	}
}

// MustJSON marshals v to a string, panicking on error, for the rare
// case where a serialization failure is truly unrecoverable.
func MustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	E2P(err)
	return string(b)
}

// AssertNil panics with a formatted message if err is non-nil.
func AssertNil(err error, format string, args ...interface{}) {
	if err != nil {
		panic(fmt.Errorf(format+": %w", append(args, err)...))
	}
}
