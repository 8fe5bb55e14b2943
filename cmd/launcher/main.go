// Command launcher drives one end-to-end patch-and-launch run: load
// config, load the schema catalog out of Root.wad, log into the login
// server, fetch the manifest from the patch server, download whatever the
// manifest calls for, and print the argument vector the downstream game
// client would be exec'd with.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/ogier/pflag"

	"midaslauncher/internal/client"
	"midaslauncher/internal/config"
	"midaslauncher/internal/manifest"
	"midaslauncher/internal/patcher"
	"midaslauncher/internal/schema"
	"midaslauncher/internal/wadarchive"
)

func main() {
	// Matches the teacher's own cmd/paysys/main.go: a fixed config file
	// name, resolved against the working directory, no flag needed to
	// relocate it.
	cfg, err := config.Load("launcher.toml")
	if err != nil {
		log.Fatalf("[Launcher] loading config: %v", err)
	}

	fs := flag.NewFlagSet("launcher", flag.ExitOnError)
	commit := config.BindFlags(fs, cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("[Launcher] parsing flags: %v", err)
	}
	commit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("[Launcher] shutdown requested, aborting in-flight work")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("[Launcher] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	archive, err := wadarchive.Open(cfg.Download.ArchivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	cat, err := schema.Load(archive, "Messages.xml")
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	log.Printf("[Launcher] loaded %d service(s) from %s", len(cat.Services), cfg.Download.ArchivePath)

	login, err := client.Handshake(ctx, cfg.LoginAddr(), cat, cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("login handshake: %w", err)
	}
	log.Printf("[Launcher] logged in as uid=%d", login.UserID)

	manifestInfo, err := client.FetchManifestInfo(ctx, cfg.PatchAddr(), cat)
	if err != nil {
		return fmt.Errorf("fetching manifest info: %w", err)
	}

	if err := patcher.FetchOne(ctx, nil, 0, manifestInfo.ListFileURL, cfg.Download.ManifestPath); err != nil {
		return fmt.Errorf("fetching manifest file: %w", err)
	}

	manifestBytes, err := os.ReadFile(cfg.Download.ManifestPath)
	if err != nil {
		return fmt.Errorf("reading downloaded manifest: %w", err)
	}
	tableList, err := manifest.Parse(manifestBytes)
	if err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	log.Printf("[Launcher] manifest lists %d file(s)", len(tableList.Records))

	if err := patcher.Download(ctx, patcher.Config{
		BaseURL:       manifestInfo.URLPrefix,
		GameDir:       cfg.Download.GameDir,
		Workers:       cfg.Download.Workers,
		OnlyEssential: cfg.Download.OnlyEssential,
		RetryBackoff:  cfg.Download.RetryBackoff(),
		MaxRetries:    cfg.Download.MaxRetries,
	}, tableList.Records); err != nil {
		return fmt.Errorf("downloading patch files: %w", err)
	}
	log.Println("[Launcher] finished patching, ready to launch")

	args := client.BuildLaunchArgs(cfg.Login.Host, cfg.Login.Port, login.UserID, login.CK2, cfg.Username)
	fmt.Println(args)
	return nil
}
