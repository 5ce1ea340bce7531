// Command pushd serves the push-notification subsystem: subscription
// registration for browsers and authenticated notification dispatch for the
// admin console.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"

	"github.com/fonzu/push/api"
	"github.com/fonzu/push/config"
	"github.com/fonzu/push/keys"
	"github.com/fonzu/push/service"
	"github.com/fonzu/push/storage"
	"github.com/fonzu/push/webpush"
)

func main() {
	log := clog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := clog.WithLogger(context.Background(), log)

	if err := run(ctx); err != nil {
		log.Errorf("pushd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := clog.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	signer, err := buildSigner(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()
	log.Infof("subscription store ready at %s", cfg.DatabaseDSN)

	var (
		sender       service.Sender
		appServerKey string
	)
	if signer != nil {
		sender = webpush.NewClient(signer, cfg.VAPIDSubject)
		appServerKey = keys.ApplicationServerKey(signer.PublicKey())
		log.Infof("VAPID public key: %s", appServerKey)
	} else {
		log.Warnf("no VAPID key configured; dispatch will run in degraded mode")
	}

	lifecycle := service.NewLifecycle(store)
	dispatcher := service.NewDispatcher(store, sender).
		WithWidth(cfg.FanoutWidth).
		WithTimeout(cfg.DeliveryTimeout).
		WithTTL(cfg.PushTTL)

	srv := api.NewServer(lifecycle, dispatcher, appServerKey, cfg.AdminToken)
	if cfg.AdminToken == "" {
		log.Warnf("no admin token configured; dispatch endpoint is open")
	}

	log.Infof("listening on :%d", cfg.Port)
	return srv.Run(fmt.Sprintf(":%d", cfg.Port))
}

// buildSigner selects the VAPID key source: KMS, a raw base64 key, an
// existing PEM file, or a freshly generated dev key pair.
func buildSigner(ctx context.Context, cfg *config.Config) (webpush.Signer, error) {
	log := clog.FromContext(ctx)

	switch {
	case cfg.VAPIDKMSKey != "":
		signer, err := keys.NewKMSSigner(ctx, cfg.VAPIDKMSKey)
		if err != nil {
			return nil, fmt.Errorf("initializing KMS signer: %w", err)
		}
		log.Infof("VAPID signing via KMS key %s", cfg.VAPIDKMSKey)
		return signer, nil

	case cfg.VAPIDPrivateKey != "":
		signer, err := keys.NewFileSignerFromBase64(cfg.VAPIDPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parsing VAPID private key: %w", err)
		}
		return signer, nil

	case cfg.VAPIDPrivateKeyPath != "":
		if _, err := os.Stat(cfg.VAPIDPrivateKeyPath); os.IsNotExist(err) {
			log.Infof("generating VAPID keys at %s", cfg.VAPIDPrivateKeyPath)
			signer, err := keys.GenerateKey(cfg.VAPIDPrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("generating VAPID keys: %w", err)
			}
			return signer, nil
		}
		signer, err := keys.NewFileSigner(cfg.VAPIDPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading VAPID keys: %w", err)
		}
		return signer, nil

	default:
		return nil, nil // no key source configured; delivery disabled
	}
}
