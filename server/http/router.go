// SPDX-License-Identifier: ice License 1.0

package http

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/ice-blockchain/relay/storage"
)

// New builds the relay router: CORS, health, websocket upgrades on / and /ws, the admin API and, for anything
// else, the plugin HTTP handlers.
func New(cfg *Config, deps *Deps) *gin.Engine {
	if cfg == nil {
		cfg = new(Config)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	r := &router{cfg: cfg, deps: deps, auth: NewAuth(deps.Clock), started: deps.Clock.Now()}

	engine := gin.New()
	engine.Use(gin.Recovery(), cors)
	engine.GET("/health", r.health)
	engine.GET("/ws", r.websocket)
	engine.GET("/", r.websocket)
	admin := engine.Group("/admin", r.authorizeAdmin)
	admin.GET("/config", r.getConfig)
	admin.PUT("/config", r.putConfig)
	admin.GET("/schemas", r.schemas)
	admin.GET("/stats", r.stats)
	engine.NoRoute(r.fallback)

	return engine
}

func cors(gCtx *gin.Context) {
	header := gCtx.Writer.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, Authorization")
	if gCtx.Request.Method == http.MethodOptions {
		gCtx.AbortWithStatus(http.StatusNoContent)

		return
	}
	gCtx.Next()
}

func (r *router) health(gCtx *gin.Context) {
	connections := 0
	if r.deps.Websocket != nil {
		connections = r.deps.Websocket.Connections()
	}
	gCtx.JSON(http.StatusOK, &healthResponse{
		Status:        "ok",
		Version:       r.cfg.Version,
		UptimeSeconds: r.deps.Clock.Since(r.started).Seconds(),
		Connections:   connections,
	})
}

// websocket upgrades websocket requests, everything else on these paths goes to the plugins (NIP-11 on /).
func (r *router) websocket(gCtx *gin.Context) {
	if r.deps.Websocket == nil || !strings.EqualFold(gCtx.GetHeader("Upgrade"), "websocket") {
		r.fallback(gCtx)

		return
	}
	r.deps.Websocket.ServeHTTP(gCtx.Writer, gCtx.Request)
	gCtx.Abort()
}

func (r *router) fallback(gCtx *gin.Context) {
	if r.deps.Manager.Fetch(gCtx.Writer, gCtx.Request) {
		gCtx.Abort()

		return
	}
	gCtx.String(http.StatusNotFound, "Not found")
}

func (r *router) authorizeAdmin(gCtx *gin.Context) {
	if key := r.cfg.AdminKey; key != "" {
		provided := gCtx.GetHeader(headerAdminKey)
		if provided == "" {
			provided = gCtx.Query(queryAdminKey)
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
			gCtx.Next()

			return
		}
	}
	if token := gCtx.GetHeader("Authorization"); len(r.cfg.AdminPubkeys) > 0 && strings.HasPrefix(token, authorizationNostr) {
		body, err := readBody(gCtx)
		if err != nil {
			gCtx.AbortWithStatusJSON(http.StatusBadRequest, &okResponse{Error: err.Error()})

			return
		}
		tok, err := r.auth.VerifyToken(gCtx.Request, strings.TrimPrefix(token, authorizationNostr), body)
		if err == nil && containsFold(r.cfg.AdminPubkeys, tok.PubKey()) {
			gCtx.Next()

			return
		}
		log.Printf("WARN: admin request from %v rejected: %v", gCtx.ClientIP(), err)
	}
	gCtx.AbortWithStatusJSON(http.StatusUnauthorized, &okResponse{Error: "unauthorized"})
}

func (r *router) getConfig(gCtx *gin.Context) {
	cfg, err := r.deps.Storage.GetAll(gCtx.Request.Context())
	if err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "failed to read relay config"))
		gCtx.JSON(http.StatusInternalServerError, &okResponse{Error: "failed to read config"})

		return
	}
	gCtx.JSON(http.StatusOK, cfg)
}

// putConfig replaces the whole relay config, nothing is persisted unless every plugin entry is valid.
func (r *router) putConfig(gCtx *gin.Context) {
	body, err := readBody(gCtx)
	if err != nil {
		gCtx.JSON(http.StatusBadRequest, &okResponse{Error: err.Error()})

		return
	}
	cfg := new(storage.RelayConfig)
	if err = json.Unmarshal(body, cfg); err != nil {
		gCtx.JSON(http.StatusBadRequest, &okResponse{Error: errors.Wrap(err, "malformed config").Error()})

		return
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]any{}
	}
	ctx := gCtx.Request.Context()
	if err = r.deps.Manager.ValidateConfig(ctx, cfg); err != nil {
		gCtx.JSON(http.StatusBadRequest, &okResponse{Error: err.Error()})

		return
	}
	if err = r.deps.Storage.SetAll(ctx, cfg); err != nil {
		log.Printf("ERROR:%v", errors.Wrap(err, "failed to store relay config"))
		gCtx.JSON(http.StatusInternalServerError, &okResponse{Error: "failed to store config"})

		return
	}
	gCtx.JSON(http.StatusOK, &okResponse{OK: true})
}

func (r *router) schemas(gCtx *gin.Context) {
	gCtx.JSON(http.StatusOK, r.deps.Manager.AdminSchemas())
}

func (r *router) stats(gCtx *gin.Context) {
	gCtx.JSON(http.StatusOK, r.deps.Manager.Stats())
}

// readBody buffers the request body so it can be both hashed by the auth check and decoded by the handler.
func readBody(gCtx *gin.Context) ([]byte, error) {
	if body, found := gCtx.Get(gin.BodyBytesKey); found {
		if data, ok := body.([]byte); ok {
			return data, nil
		}
	}
	gCtx.Request.Body = http.MaxBytesReader(gCtx.Writer, gCtx.Request.Body, maxAdminBodySize)
	data, err := gCtx.GetRawData()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request body")
	}
	gCtx.Set(gin.BodyBytesKey, data)

	return data, nil
}

func containsFold(list []string, val string) bool {
	for _, item := range list {
		if strings.EqualFold(item, val) {
			return true
		}
	}

	return false
}
