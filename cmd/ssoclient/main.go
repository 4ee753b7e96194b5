package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	authsession "github.com/jrsteele09/go-sso-session"
	"github.com/jrsteele09/go-sso-session/internal/config"
	"github.com/jrsteele09/go-sso-session/internal/utils"
	"github.com/jrsteele09/go-sso-session/loginflow"
	"github.com/jrsteele09/go-sso-session/refresh"
	"github.com/jrsteele09/go-sso-session/ssoapi"
	"github.com/jrsteele09/go-sso-session/store"
	"github.com/jrsteele09/go-sso-session/store/filestore"
	"github.com/jrsteele09/go-sso-session/store/memstore"
	"github.com/jrsteele09/go-sso-session/store/redisstore"
	"github.com/jrsteele09/go-sso-session/validator"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running session client: %s\n", err)
	}
	log.Printf("Session client stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	email := flag.String("email", "", "email for direct login")
	password := flag.String("password", "", "password for direct login")
	tenantID := flag.String("tenant", "", "tenant for direct login")
	flag.Parse()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	manager, err := buildManager(c, logger)
	if err != nil {
		return fmt.Errorf("buildManager: %w", err)
	}
	defer manager.Destroy()

	ctx := context.Background()
	manager.Initialize(ctx)

	if !manager.IsAuthenticated() && *email != "" {
		if err := manager.DirectLogin(ctx, *email, *password, *tenantID); err != nil {
			return fmt.Errorf("direct login: %w", err)
		}
	}

	if manager.IsAuthenticated() {
		user := utils.Value(manager.CurrentUser())
		tenant := utils.Value(manager.CurrentTenant())
		logger.Info().Str("user", user.Email).Str("tenant", tenant.Name).Msg("session active, holding until interrupt")
	} else {
		logger.Info().Msg("no session; holding until interrupt")
	}

	waitForStopSignal()

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Logout(logoutCtx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func buildManager(c config.Config, logger zerolog.Logger) (*authsession.Manager, error) {
	api := ssoapi.NewClient(c.GetBaseURL(), ssoapi.WithLogger(logger))

	kv, err := buildKeyValue(c)
	if err != nil {
		return nil, err
	}

	authStore, err := store.New(kv, c.GetStorageNamespace(), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	flow, err := loginflow.NewCoordinator(api, browserOpener{}, kv,
		loginflow.WithTimeout(c.GetLoginTimeout()),
		loginflow.WithPollInterval(c.GetPopupPollInterval()),
		loginflow.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	tokenValidator, err := validator.New(api, validator.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return authsession.New(authsession.Deps{
		API:       api,
		Store:     authStore,
		Flow:      flow,
		Validator: tokenValidator,
	},
		authsession.WithLogger(logger),
		authsession.WithSchedulerOptions(refresh.WithLeadTime(c.GetRefreshLeadTime())),
	)
}

func buildKeyValue(c config.Config) (store.KeyValue, error) {
	if addr := c.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		return redisstore.New(client, c.GetStorageNamespace()+":")
	}
	if folder := c.GetDataFolder(); folder != "" {
		options := []filestore.Option{}
		if passphrase := c.GetStorePassphrase(); passphrase != "" {
			options = append(options, filestore.WithPassphrase(passphrase))
		}
		return filestore.New(folder, options...)
	}
	return memstore.New(), nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
