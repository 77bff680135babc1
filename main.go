// ldap-publisher extracts user records from the source directory,
// diffs them against the last published snapshot, and publishes signed
// identity profiles for every change to the CIS change API. It runs as
// a scheduled single-shot job: exit status reports run success to the
// invoking scheduler, and the committed snapshot carries any pending
// work into the next run.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"idsync/cispublisher/cis"
	"idsync/cispublisher/config"
	"idsync/cispublisher/directory"
	"idsync/cispublisher/profile"
	"idsync/cispublisher/publisher"
	"idsync/cispublisher/snapshot"
	"idsync/cispublisher/storage"
)

func main() {
	cfg, err := config.Load("settings.env")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	objects, cleanup, err := buildObjectStore(ctx, cfg)
	if err != nil {
		log.Fatalf("snapshot storage error: %v", err)
	}
	defer cleanup()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	disc, err := cis.Discover(ctx, httpClient, cfg.DiscoveryURL)
	if err != nil {
		log.Fatalf("discovery error: %v", err)
	}

	nullProfile, err := cis.FetchNullProfile(ctx, httpClient, cfg.NullProfileURL)
	if err != nil {
		log.Fatalf("null profile error: %v", err)
	}

	signer, err := profile.NewSigner([]byte(cfg.SigningKeyPEM), cfg.PublisherName)
	if err != nil {
		log.Fatalf("signing key error: %v", err)
	}

	tokens := cis.NewTokenManager(httpClient, disc.TokenEndpoint, disc.Audience,
		cfg.OAuthClientID, cfg.OAuthClientSecret)

	runner := &publisher.Runner{
		Directory: directory.NewExtractor(cfg.LDAPURL, cfg.LDAPBaseDN,
			cfg.LDAPBindDN, cfg.LDAPBindPassword, cfg.LDAPPageSize, cfg.LDAPConnectRetries),
		Store:       snapshot.NewStore(objects, cfg.SnapshotKey, cfg.LastRunKey),
		Signer:      signer,
		Publisher:   cis.NewClient(httpClient, disc.ChangeAPIURL, tokens, cfg.PublishRetries),
		Tokens:      tokens,
		NullProfile: nullProfile,
		Prefix:      cfg.UserIDPrefix,
		Workers:     cfg.PublishWorkers,
		DryRun:      cfg.DryRun,
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		log.Printf("run aborted: %v", err)
		log.Printf("run summary: %s", summary)
		os.Exit(1)
	}

	log.Printf("run summary: %s", summary)
	if summary.Pending() > 0 {
		// Pending work is checkpointed for the next run, but the
		// scheduler still gets to see this run was not clean.
		os.Exit(1)
	}
}

// buildObjectStore constructs the configured snapshot backend. The
// returned cleanup releases backend resources (a no-op for stateless
// backends).
func buildObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendS3:
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.SnapshotBucket,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendPostgres:
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		store, err := storage.NewFileStore(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
