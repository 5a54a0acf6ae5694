package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "/api/v1", r.BasePath())
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "/api/v2", r.BasePath())
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	orders := NewDomainGroup("purchase-orders", "/purchase-orders")
	orders.POST("", func(c *gin.Context) { c.String(http.StatusCreated, "created") })
	orders.GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) })

	batches := NewDomainGroup("batches", "/batches")
	batches.GET("/:id/composition", func(c *gin.Context) { c.String(http.StatusOK, "composition") })

	r.Register(orders).Register(batches)
	r.Setup()

	w := serve(engine, "POST", "/api/v1/purchase-orders")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = serve(engine, "GET", "/api/v1/purchase-orders/po-7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "po-7", w.Body.String())

	w = serve(engine, "GET", "/api/v1/batches/b-1/composition")
	assert.Equal(t, "composition", w.Body.String())

	w = serve(engine, "GET", "/purchase-orders/po-7")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterUseAppliesToAPIOnly(t *testing.T) {
	engine := gin.New()
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	r := NewRouter(engine)
	r.Use(func(c *gin.Context) {
		c.Header("X-API", "1")
		c.Next()
	})
	g := NewDomainGroup("gaps", "/gaps")
	g.POST("/:id/resolve", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.Register(g).Setup()

	w := serve(engine, "POST", "/api/v1/gaps/g-1/resolve")
	assert.Equal(t, "1", w.Header().Get("X-API"))

	w = serve(engine, "GET", "/health")
	assert.Empty(t, w.Header().Get("X-API"))
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("companies", "/companies")
		assert.Equal(t, "companies", g.Name())
		assert.Equal(t, "/companies", g.Prefix())
	})

	t.Run("group middleware", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("companies", "/companies")
		g.Use(func(c *gin.Context) {
			c.AbortWithStatus(http.StatusForbidden)
		})
		g.GET("/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		assert.Equal(t, http.StatusForbidden, serve(engine, "GET", "/api/v1/companies/c-1").Code)
	})

	t.Run("subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("companies", "/companies")
		g.Group("gaps", "/:id/gaps").GET("", func(c *gin.Context) {
			c.String(http.StatusOK, "gaps of "+c.Param("id"))
		})
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, "GET", "/api/v1/companies/c-9/gaps")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "gaps of c-9", w.Body.String())
	})
}

func TestDomainGroupRoutes(t *testing.T) {
	noop := func(c *gin.Context) {}

	g := NewDomainGroup("purchase-orders", "/purchase-orders")
	g.POST("", noop).
		GET("/:id", noop).
		POST("/:id/confirm", noop)
	g.Group("chain", "/:id/chain").GET("", noop)

	assert.Equal(t, []RouteInfo{
		{Method: "POST", Path: "/purchase-orders"},
		{Method: "GET", Path: "/purchase-orders/:id"},
		{Method: "POST", Path: "/purchase-orders/:id/confirm"},
		{Method: "GET", Path: "/purchase-orders/:id/chain"},
	}, g.Routes())
}
