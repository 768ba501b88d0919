package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/connectors"
	"meldung/internal/extract"
	"meldung/internal/httpapi"
	"meldung/internal/incidents"
	"meldung/internal/listener"
	"meldung/internal/locations"
	"meldung/internal/logging"
	"meldung/internal/pipeline"
	"meldung/internal/storage"
	"meldung/internal/util"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg)
	must(err)
	defer func() { _ = logger.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "locations:seed":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		force := fs.Bool("force", false, "upsert the seed even if locations exist")
		_ = fs.Parse(os.Args[2:])
		svc := locations.NewSyncService(db, cfg, logger)
		var count int
		if *force {
			count, err = svc.SyncFrom(ctx, "seed")
		} else {
			count, err = svc.SeedIfEmpty(ctx)
		}
		must(err)
		fmt.Printf("seed done: %d locations written\n", count)
	case "locations:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "xlsx file with name, city, state columns")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		count, err := locations.NewSyncService(db, cfg, logger).Sync(ctx, locations.NewXLSXDirectory(*file))
		must(err)
		fmt.Printf("import done: %d locations\n", count)
	case "locations:sync":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		source := fs.String("source", "api", "api|xlsx|seed")
		_ = fs.Parse(os.Args[2:])
		svc := locations.NewSyncService(db, cfg, logger)
		count, err := svc.SyncFrom(ctx, *source)
		must(err)
		fmt.Printf("sync complete source=%s locations=%d\n", *source, count)
	case "locations:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		city := fs.String("city", "", "only locations in this city")
		_ = fs.Parse(os.Args[2:])
		dir, err := locations.NewDirectory(cfg, db, logger)
		must(err)
		records, err := dir.ListLocations(ctx)
		must(err)
		if *city != "" {
			records = locations.BuildIndex(records).InCity(*city)
		}
		printLocations(records)
	case "locations:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		records, err := db.ListLocations(ctx)
		must(err)
		f, err := os.Create(*out)
		must(err)
		must(errors.Join(locations.WriteLocationsXLSX(f, records), f.Close()))
		fmt.Printf("exported %d locations to %s\n", len(records), *out)
	case "parse":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "email export (.eml, .msg, .html, .pdf, .txt)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		engine, _ := newEngine(ctx, cfg, db, logger)
		res, err := pipeline.ParseFile(ctx, engine, *file)
		must(err)
		printJSON(res)
		if !res.Success {
			os.Exit(2)
		}
	case "incidents:submit":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "email export to parse")
		typ := fs.String("type", cfg.DefaultIncidentType, "diebstahl|sachbeschädigung|sonstiges")
		date := fs.String("date", "", "override incident date (YYYY-MM-DD)")
		clock := fs.String("time", "", "override incident time (HH:MM)")
		location := fs.Int("location", 0, "override location id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		engine, cache := newEngine(ctx, cfg, db, logger)
		res, err := pipeline.ParseFile(ctx, engine, *file)
		must(err)
		draft, err := incidents.DraftFromExtraction(res, *typ)
		must(err)
		if *date != "" {
			draft.Date = *date
		}
		if *clock != "" {
			draft.Time = *clock
		}
		if *location > 0 {
			draft.LocationID = location
			draft.LocationName = ""
		}
		inc, err := incidents.NewService(db, cache, logger).Submit(ctx, draft)
		must(err)
		printJSON(inc)
	case "incidents:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		status := fs.String("status", "", "pending|in_review|completed|rejected")
		limit := fs.Int("limit", 50, "max rows")
		_ = fs.Parse(os.Args[2:])
		list, err := db.ListIncidents(ctx, storage.IncidentFilter{Status: internal.IncidentStatus(*status), Limit: *limit})
		must(err)
		printIncidents(list)
	case "incidents:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		status := fs.String("status", "", "only incidents with this status")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		rows, err := db.GetExportRows(ctx, internal.IncidentStatus(*status))
		must(err)
		must(pipeline.ExportIncidentsToXLSX(rows, *out))
		fmt.Printf("exported %d incidents to %s\n", len(rows), *out)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := connectors.New(cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, logger)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d new=%d\n", *provider, result.Fetched, result.Stored, result.New)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		processor := newProcessor(ctx, cfg, db, logger)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed email id=%d status=%s trace=%s\n", res.EmailID, res.Status, res.TraceID)
			return
		}
		processed, submitted, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending emails=%d submitted=%d\n", processed, submitted)
	case "mail:listen":
		conn, err := connectors.New(cfg, cfg.MailListenerProvider)
		must(err)
		s := listener.NewService(db, cfg, conn, newProcessor(ctx, cfg, db, logger), logger)
		must(s.Run(ctx))
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTPAddr, "listen address")
		_ = fs.Parse(os.Args[2:])
		engine, cache := newEngine(ctx, cfg, db, logger)
		srv, err := httpapi.NewServer(engine, cache, incidents.NewService(db, cache, logger), locations.NewSyncService(db, cfg, logger), logger,
			httpapi.Config{Addr: *addr, LowConfidence: cfg.LowConfidenceThreshold})
		must(err)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown failed", zap.Error(err))
			}
		}()
		must(srv.Start())
	default:
		usage()
		os.Exit(1)
	}
}

// newEngine builds the extraction engine over the configured directory.
func newEngine(ctx context.Context, cfg config.Config, db *storage.DB, logger *zap.Logger) (*extract.Engine, *locations.Cache) {
	dir, err := locations.OpenDirectory(ctx, cfg, db, logger)
	must(err)
	cache := locations.NewCache(dir, logger)
	engine := extract.NewEngine(cache, logger,
		extract.WithReadTimeout(time.Duration(cfg.ExtractReadTimeoutMs)*time.Millisecond),
		extract.WithLoadTimeout(time.Duration(cfg.LocationLoadTimeoutMs)*time.Millisecond))
	return engine, cache
}

func newProcessor(ctx context.Context, cfg config.Config, db *storage.DB, logger *zap.Logger) *pipeline.ProcessingService {
	engine, cache := newEngine(ctx, cfg, db, logger)
	return pipeline.NewProcessingService(db, engine, incidents.NewService(db, cache, logger), cfg, logger)
}

func printLocations(records []internal.LocationRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "City", "State", "PLZ", "Address"})
	for _, r := range records {
		table.Append([]string{strconv.Itoa(r.ID), r.Name, r.City, r.State, util.DerefString(r.PostalCode), util.DerefString(r.Address)})
	}
	table.Render()
}

func printIncidents(list []internal.Incident) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Type", "Date", "Time", "Location", "Status", "Created"})
	for _, inc := range list {
		location := ""
		if inc.LocationID != nil {
			location = strconv.Itoa(*inc.LocationID)
		}
		table.Append([]string{strconv.Itoa(inc.ID), inc.Type, inc.IncidentDate, inc.IncidentTime, location, string(inc.Status), inc.CreatedAt})
	}
	table.Render()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func usage() {
	fmt.Println("usage: meldung <command>")
	fmt.Println("commands:")
	fmt.Println("  locations:seed [--force]")
	fmt.Println("  locations:import --file=./data/locations.xlsx")
	fmt.Println("  locations:sync --source=api|xlsx|seed")
	fmt.Println("  locations:list [--city=Stuttgart]")
	fmt.Println("  locations:export --out=./out/locations.xlsx")
	fmt.Println("  parse --file=./report.eml")
	fmt.Println("  incidents:submit --file=./report.eml [--type=diebstahl] [--date=..] [--time=..] [--location=3]")
	fmt.Println("  incidents:list [--status=pending] [--limit=50]")
	fmt.Println("  incidents:export --out=./out/incidents.xlsx [--status=pending]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  serve [--addr=127.0.0.1:8080]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
