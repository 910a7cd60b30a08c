package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/defi-bear/paymaster/internal/api"
	"github.com/defi-bear/paymaster/internal/auth"
	"github.com/defi-bear/paymaster/internal/config"
	"github.com/defi-bear/paymaster/internal/engine"
	"github.com/defi-bear/paymaster/internal/journal"
	"github.com/defi-bear/paymaster/internal/registry"
	"github.com/defi-bear/paymaster/internal/sponsor"
	"github.com/defi-bear/paymaster/internal/token"
	"github.com/defi-bear/paymaster/internal/userop"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Sponsor key + registry ────────────────────────────────────────────────
	key, err := crypto.HexToECDSA(cfg.Sponsor.SigningKey)
	if err != nil {
		log.Fatal("invalid SPONSOR_SIGNING_KEY", zap.Error(err))
	}
	paymasterAddr := common.HexToAddress(cfg.Chain.PaymasterAddress)
	owner := common.HexToAddress(cfg.Sponsor.OwnerAddress)

	jrnl := journal.New(rdb, paymasterAddr, log)
	reg := registry.New(owner, jrnl, log)

	// The sponsor's key must be an authorized voucher signer.
	sp := sponsor.New(key, big.NewInt(cfg.Chain.ChainID), paymasterAddr)
	if err := reg.AddSigner(ctx, owner, sp.Address()); err != nil {
		log.Fatal("register sponsor signer", zap.Error(err))
	}

	// ── Token transfer client ─────────────────────────────────────────────────
	transfer, err := token.NewClient(cfg.Chain.RPCURL, cfg.Sponsor.SigningKey, cfg.Chain.ChainID)
	if err != nil {
		log.Fatal("token client init failed", zap.Error(err))
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	hosts := make(map[userop.Version]common.Address)
	if cfg.Chain.EntryPointLegacy != "" {
		hosts[userop.VersionLegacy] = common.HexToAddress(cfg.Chain.EntryPointLegacy)
	}
	if cfg.Chain.EntryPointPacked != "" {
		hosts[userop.VersionPacked] = common.HexToAddress(cfg.Chain.EntryPointPacked)
	}
	hostList := make([]common.Address, 0, len(hosts))
	for _, addr := range hosts {
		hostList = append(hostList, addr)
	}
	eng := engine.New(engine.Config{
		Self:     paymasterAddr,
		ChainID:  big.NewInt(cfg.Chain.ChainID),
		Hosts:    hostList,
		Registry: reg,
		Transfer: transfer,
		Journal:  jrnl,
		Log:      log,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api.NewHandler(sp, reg, jrnl, eng, hosts, big.NewInt(cfg.Chain.ChainID), log).
		Register(r, auth.OwnerOnly(rdb, reg.Owner))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
