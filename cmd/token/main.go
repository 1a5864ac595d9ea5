package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
)

// token mints an access token for local testing against the API.
func main() {
	role := flag.String("role", string(auth.RoleCliente), "CLIENTE|VENDEDOR|ADMINISTRADOR")
	userID := flag.String("user", "", "user id; CLIENTE and VENDEDOR ids are looked up from it")
	customerID := flag.String("customer", "", "customer id, checked against the user")
	sellerID := flag.String("seller", "", "seller id")
	flag.Parse()

	log := logger.New(logger.Options{ServiceName: "flycar-token", Format: "console"})
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, "load config", err)
		os.Exit(1)
	}

	identity := auth.Identity{Role: auth.Role(strings.ToUpper(*role))}
	if identity.UserID, err = parseOptional(*userID); err != nil {
		log.Error(ctx, "parse user id", err)
		os.Exit(1)
	}
	if identity.CustomerID, err = parseRef(*customerID); err != nil {
		log.Error(ctx, "parse customer id", err)
		os.Exit(1)
	}
	if identity.SellerID, err = parseRef(*sellerID); err != nil {
		log.Error(ctx, "parse seller id", err)
		os.Exit(1)
	}

	if identity.Role != auth.RoleAdministrador {
		db, err := database.NewConnection(&cfg.Database)
		if err != nil {
			log.Error(ctx, "connect database", err)
			os.Exit(1)
		}
		identity, err = auth.Resolve(ctx, db, identity)
		db.Close()
		if err != nil {
			log.Error(ctx, "resolve identity", err)
			os.Exit(1)
		}
	}
	if identity.UserID == uuid.Nil {
		identity.UserID = uuid.New()
	}

	token, err := auth.MintAccessToken(cfg.JWT, time.Now().UTC(), identity)
	if err != nil {
		log.Error(ctx, "mint token", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func parseOptional(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(value)
}

func parseRef(value string) (*uuid.UUID, error) {
	id, err := parseOptional(value)
	if err != nil || id == uuid.Nil {
		return nil, err
	}
	return &id, nil
}
