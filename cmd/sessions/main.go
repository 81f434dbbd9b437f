// Command sessions generates a Kite user session from credentials in the
// environment (or .env / config.yaml), prints it, probes its validity and
// revokes it when it carries an access token.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"kiteclient/internal/config"
	"kiteclient/internal/kite"
	"kiteclient/internal/logger"
	"kiteclient/internal/trace"

	"github.com/joho/godotenv"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(logger.Init())
	must(trace.Init())

	ctx := context.Background()
	defer trace.Shutdown(ctx)

	cfg, err := config.Load("config.yaml")
	must(err)

	sessions := kite.New(kite.Params{
		KiteBaseURL: cfg.KiteBaseURL,
		APIBaseURL:  cfg.APIBaseURL,
		Timeout:     cfg.Timeout(),
		Logging:     cfg.HTTPLogging,
	})

	user := kite.User{
		UserID:     cfg.UserID,
		Password:   cfg.Password,
		TOTPSecret: cfg.TOTPSecret,
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
	}

	session, err := sessions.GenerateSession(ctx, user)
	if err != nil {
		var authErr *kite.AuthError
		if errors.As(err, &authErr) {
			logger.Error(ctx, "Session generation rejected",
				"code", authErr.Code,
				"error_type", authErr.ErrType,
				"message", authErr.Message)
		} else {
			logger.ErrorWithErr(ctx, "Session generation failed", err)
		}
		os.Exit(1)
	}

	out, err := json.MarshalIndent(session, "", "  ")
	must(err)
	fmt.Println(string(out))

	if session.Enctoken != "" {
		valid, err := sessions.IsOMSSessionValid(ctx, session.Enctoken)
		must(err)
		logger.Info(ctx, "OMS session probe", "valid", valid)
	}

	if session.AccessToken == "" {
		return
	}

	valid, err := sessions.IsAPISessionValid(ctx, session.APIKey, session.AccessToken)
	must(err)
	logger.Info(ctx, "API session probe", "valid", valid)

	must(sessions.DeleteSession(ctx, session.APIKey, session.AccessToken))
	logger.Info(ctx, "Session deleted")
}
