package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/animation"
	"github.com/example/face-overlay/internal/auth"
	"github.com/example/face-overlay/internal/config"
	"github.com/example/face-overlay/internal/faceapi"
	"github.com/example/face-overlay/internal/geometry"
	"github.com/example/face-overlay/internal/handlers"
	"github.com/example/face-overlay/internal/logging"
	"github.com/example/face-overlay/internal/render"
	"github.com/example/face-overlay/internal/workflow"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	accessory, err := loadAccessory(cfg.AccessoryPath)
	if err != nil {
		logger.Fatal("failed to load accessory", zap.String("path", cfg.AccessoryPath), zap.Error(err))
	}

	client := faceapi.NewHTTPClient(cfg.FaceAPIURL, cfg.FaceAPITimeout, logger)
	registry := workflow.NewRegistry(client, logger, sessionOptions(cfg, accessory))
	defer registry.CloseAll()

	router := newRouter(cfg, registry, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("overlay API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("face_api", cfg.FaceAPIURL),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, registry *workflow.Registry, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(router, registry, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), logger)
	return router
}

func sessionOptions(cfg *config.Config, accessory render.Accessory) workflow.Options {
	return workflow.Options{
		MaxWidth:  cfg.PreviewMaxWidth,
		Policy:    geometry.DefaultPolicy,
		NoticeTTL: cfg.NoticeTTL,
		Accessory: accessory,
		Fade:      animation.Config{Interval: cfg.FadeInterval, Step: cfg.FadeStep},
		Scheduler: animation.TickerScheduler{},
		MaxPixels: cfg.MaxImagePixels,
	}
}

func loadAccessory(path string) (render.Accessory, error) {
	if path == "" {
		return render.DefaultSunglasses, nil
	}
	acc, err := render.LoadImageAccessory(path)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
