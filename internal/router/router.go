package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartage/config"
	"github.com/ikkim/cartage/internal/app/controller"
	"github.com/ikkim/cartage/internal/middleware"
)

type Router struct {
	cartController *controller.CartController
	authMiddleware *middleware.AuthMiddleware
	config         *config.Config
}

func NewRouter(
	cartController *controller.CartController,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.Config,
) *Router {
	return &Router{
		cartController: cartController,
		authMiddleware: authMiddleware,
		config:         cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	gin.SetMode(r.config.Server.GinMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"message": "cartage API is running",
		})
	})

	v1 := router.Group("/api/v1")
	{
		carts := v1.Group("/carts")
		carts.Use(r.authMiddleware.Authenticate())
		{
			carts.POST("", r.cartController.RegisterCart)
			carts.GET("", r.cartController.ListCarts)
			carts.GET("/:id", r.cartController.GetCart)
			carts.DELETE("/:id", r.cartController.DeleteCart)
			carts.POST("/:id/clear", r.cartController.Clear)
			carts.POST("/:id/finalize", r.cartController.Finalize)

			carts.GET("/:id/lines", r.cartController.GetLines)
			carts.POST("/:id/lines", r.cartController.AddItems)
			carts.GET("/:id/lines/:line", r.cartController.GetLine)
			carts.PUT("/:id/lines/:line", r.cartController.UpdateLine)
			carts.DELETE("/:id/lines/:line", r.cartController.RemoveLine)
			carts.PUT("/:id/lines/:line/attributes/:name", r.cartController.SetLineAttribute)
			carts.DELETE("/:id/lines/:line/attributes/:name", r.cartController.DeleteLineAttribute)
		}
	}

	return router
}
