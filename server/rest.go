// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/mealrec/common/log"
	"github.com/gorse-io/mealrec/config"
	"github.com/gorse-io/mealrec/dataset"
	"github.com/gorse-io/mealrec/logics"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const apiDocsPath = "/apidocs.json"

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config     *config.Config
	Engine     *logics.Engine
	WebService *restful.WebService
	HttpServer *http.Server
	limiter    *ratelimit.Bucket

	handlerOnce sync.Once
	handler     http.Handler
}

func NewRestServer(cfg *config.Config, engine *logics.Engine) *RestServer {
	return &RestServer{
		Config:     cfg,
		Engine:     engine,
		WebService: new(restful.WebService),
	}
}

// Handler returns the HTTP handler serving the REST API, its OpenAPI document
// and Prometheus metrics. It is built on the first call and reused afterwards.
func (s *RestServer) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.CreateWebService()
		container := restful.NewContainer()
		container.Add(s.WebService)
		container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
			WebServices: container.RegisteredWebServices(),
			APIPath:     apiDocsPath,
		}))
		container.Handle("/metrics", promhttp.Handler())
		s.handler = container
	})
	return s.handler
}

// StartHttpServer starts the REST-ful API server and blocks until it stops.
func (s *RestServer) StartHttpServer() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.HttpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.HttpServer == nil {
		return nil
	}
	return errors.Trace(s.HttpServer.Shutdown(ctx))
}

// LogFilter tags every request with an id and logs it once served.
func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set("X-Request-ID", requestId)
	chain.ProcessFilter(req, resp)
	route := req.SelectedRoutePath()
	RequestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode())).Inc()
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
}

// RateLimitFilter rejects requests once the token bucket is drained.
func (s *RestServer) RateLimitFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.limiter.TakeAvailable(1) == 0 {
		RateLimitedTotal.Inc()
		if err := resp.WriteError(http.StatusTooManyRequests, fmt.Errorf("too many requests")); err != nil {
			log.ResponseLogger(resp).Error("failed to write error", zap.Error(err))
		}
		return
	}
	chain.ProcessFilter(req, resp)
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(otelrestful.OTelFilter("mealrec"))
	ws.Filter(LogFilter)
	if s.Config.Server.RateLimit > 0 {
		s.limiter = ratelimit.NewBucketWithRate(float64(s.Config.Server.RateLimit), int64(s.Config.Server.RateLimit))
		ws.Filter(s.RateLimitFilter)
	}

	ws.Route(ws.GET("/recommend/{user-id}").To(s.getRecommend).
		Doc("Get recommended meals for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("category", "category of meals").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned meals").DataType("integer")).
		Param(ws.QueryParameter("use-ml", "blend collaborative filtering scores").DataType("boolean").DefaultValue("true")).
		Writes(logics.Result{}))
	ws.Route(ws.GET("/popular").To(s.getPopular).
		Doc("Get popular meals.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.QueryParameter("n", "number of returned meals").DataType("integer")).
		Writes([]logics.PopularItem{}))
	ws.Route(ws.GET("/similar-users/{user-id}").To(s.getSimilarUsers).
		Doc("Get users with similar ratings.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned users").DataType("integer")).
		Writes([]logics.Neighbor{}))
	ws.Route(ws.GET("/model").To(s.getModel).
		Doc("Get the state of the model artifact.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(dataset.Status{}))
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// ParseBool parses booleans from the query parameter.
func ParseBool(request *restful.Request, name string, fallback bool) (value bool, err error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	return strconv.ParseBool(valueString)
}

func (s *RestServer) parseLimit(request *restful.Request) (int, error) {
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		return 0, errors.NotValidf("n %q", request.QueryParameter("n"))
	}
	if n <= 0 {
		return 0, errors.NotValidf("n %d", n)
	}
	return n, nil
}

func parseUserId(request *restful.Request) (int64, error) {
	text := request.PathParameter("user-id")
	userId, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("user id %q", text)
	}
	return userId, nil
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	start := time.Now()
	userId, err := parseUserId(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := s.parseLimit(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	useML, err := ParseBool(request, "use-ml", true)
	if err != nil {
		BadRequest(response, errors.NotValidf("use-ml %q", request.QueryParameter("use-ml")))
		return
	}
	result, err := s.Engine.Recommend(request.Request.Context(), userId, request.QueryParameter("category"), n, useML)
	if err != nil {
		s.engineError(response, err)
		return
	}
	GetRecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, result)
}

func (s *RestServer) getPopular(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	start := time.Now()
	n, err := s.parseLimit(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.Popular(request.Request.Context(), n)
	if err != nil {
		s.engineError(response, err)
		return
	}
	GetPopularSeconds.Observe(time.Since(start).Seconds())
	Ok(response, items)
}

func (s *RestServer) getSimilarUsers(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	userId, err := parseUserId(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := s.parseLimit(request)
	if err != nil {
		BadRequest(response, err)
		return
	}
	similarity, err := s.Engine.Similarity(request.Request.Context())
	if err != nil {
		s.engineError(response, err)
		return
	}
	if similarity == nil {
		Ok(response, []logics.Neighbor{})
		return
	}
	Ok(response, similarity.SimilarUsers(userId, n))
}

func (s *RestServer) getModel(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	Ok(response, s.Engine.ModelStatus())
}

func (s *RestServer) engineError(response *restful.Response, err error) {
	var dependencyError *logics.DependencyError
	if errors.As(err, &dependencyError) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ServiceUnavailable(response, err)
		return
	}
	InternalServerError(response, err)
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("service unavailable", zap.Error(err))
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String("X-API-Key", apikey))
	if err := response.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
	return false
}
