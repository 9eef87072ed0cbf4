// Command uiheal is the one-shot CLI around the healing and drift core.
//
// Usage:
//
//	uiheal -run scenario.yaml                          # execute a scenario
//	uiheal -drift -expected a.json -actual b.json      # compare two UIMaps
//	uiheal -resolve E012 -map current.json -sig s.json # heal one reference
//	uiheal -parse shot.png -service http://host:8000   # screenshot → UIMap
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/executor"
	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/perception"
	"github.com/okralabs/uiheal/runner"
	"github.com/okralabs/uiheal/trajectory"
	"github.com/okralabs/uiheal/uimap"
)

func main() {
	runPath := flag.String("run", "", "execute a YAML scenario file")
	doDrift := flag.Bool("drift", false, "compare two UIMap JSON files")
	expectedPath := flag.String("expected", "", "expected UIMap JSON (with -drift)")
	actualPath := flag.String("actual", "", "actual UIMap JSON (with -drift)")
	anchors := flag.String("anchors", "", "comma-separated anchor element ids (with -drift)")
	anchorTexts := flag.String("anchor-texts", "", "comma-separated anchor texts (with -drift)")
	resolveID := flag.String("resolve", "", "resolve an element id against -map")
	mapPath := flag.String("map", "", "current UIMap JSON (with -resolve)")
	sigPath := flag.String("sig", "", "signature JSON (with -resolve)")
	parsePath := flag.String("parse", "", "parse a screenshot via the perception service")
	serviceURL := flag.String("service", "http://localhost:8000", "perception service URL (with -parse)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case *runPath != "":
		err = runScenario(ctx, logger, *runPath)
	case *doDrift:
		err = runDrift(*expectedPath, *actualPath, *anchors, *anchorTexts)
	case *resolveID != "":
		err = runResolve(*resolveID, *mapPath, *sigPath)
	case *parsePath != "":
		err = runParse(ctx, *parsePath, *serviceURL)
	default:
		fmt.Fprintln(os.Stderr, "usage: uiheal -run <scenario.yaml> | -drift -expected <a.json> -actual <b.json> | -resolve <id> -map <m.json> [-sig <s.json>] | -parse <shot.png>")
		os.Exit(1)
	}
	if err != nil {
		logger.Error("uiheal: fatal", "error", err)
		os.Exit(1)
	}
}

func runScenario(ctx context.Context, logger *slog.Logger, path string) error {
	sc, err := runner.LoadScenario(path)
	if err != nil {
		return err
	}

	store, err := trajectory.Open(sc.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	browserCfg := sc.Browser
	browserCfg.Logger = logger
	browser := executor.NewBrowser(browserCfg)
	if err := browser.Start(ctx); err != nil {
		return err
	}
	defer browser.Close()

	session, err := browser.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	perceiver := perception.NewClient(sc.PerceptionURL, perception.WithLogger(logger))

	res, err := runner.New(sc, session, perceiver, store, logger).Run(ctx)
	if err != nil {
		return err
	}

	printJSON(res)
	if !res.Passed {
		os.Exit(2)
	}
	return nil
}

func runDrift(expectedPath, actualPath, anchors, anchorTexts string) error {
	if expectedPath == "" || actualPath == "" {
		return fmt.Errorf("uiheal: -drift needs -expected and -actual")
	}
	expected, err := loadUIMap(expectedPath)
	if err != nil {
		return err
	}
	actual, err := loadUIMap(actualPath)
	if err != nil {
		return err
	}

	cfg := drift.Config{
		AnchorElementIDs: splitList(anchors),
		AnchorTexts:      splitList(anchorTexts),
	}
	report := drift.NewComparator(cfg).Detect(expected, actual)
	printJSON(report)
	return nil
}

func runResolve(targetID, mapPath, sigPath string) error {
	if mapPath == "" {
		return fmt.Errorf("uiheal: -resolve needs -map")
	}
	m, err := loadUIMap(mapPath)
	if err != nil {
		return err
	}

	var sig *heal.Signature
	if sigPath != "" {
		data, err := os.ReadFile(sigPath)
		if err != nil {
			return fmt.Errorf("uiheal: read signature: %w", err)
		}
		sig = &heal.Signature{}
		if err := json.Unmarshal(data, sig); err != nil {
			return fmt.Errorf("uiheal: parse signature: %w", err)
		}
	}

	res := heal.NewResolver(heal.Config{}).ResolveByID(targetID, m, sig)
	printJSON(res)
	if !res.Success {
		os.Exit(2)
	}
	return nil
}

func runParse(ctx context.Context, imagePath, serviceURL string) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("uiheal: read image: %w", err)
	}
	client := perception.NewClient(serviceURL)
	m, err := client.Parse(ctx, image, nil)
	if err != nil {
		return err
	}
	printJSON(m)
	return nil
}

func loadUIMap(path string) (*uimap.UIMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("uiheal: read uimap: %w", err)
	}
	var m uimap.UIMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("uiheal: parse uimap %s: %w", path, err)
	}
	return &m, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}
