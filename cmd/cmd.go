package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/server"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(a.svc, a.metrics, a.logger, &server.Config{
				Host:        a.config.Server.Host,
				Port:        a.config.Server.Port,
				CORSOrigins: a.config.Server.CORSOrigins,
				CleanupDays: a.config.Cleanup.MaxAgeDays,
			})
			if err != nil {
				return err
			}

			cleanupDone := a.svc.StartCleanup(ctx)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("server shutdown", zap.Error(err))
			}
			stop()
			<-cleanupDone
			return nil
		},
	}
}

type registerFlags struct {
	id, filename, path, contentType string
	domain, sector, region, docType string
	jurisdictions                   []string
	reindex                         bool
}

func (f registerFlags) document() (models.Document, error) {
	doc := models.Document{ID: f.id, Filename: f.filename, StoragePath: f.path, ContentType: f.contentType}
	var err error
	if doc.Domain, err = models.ParseDomain(f.domain); err != nil {
		return doc, err
	}
	if doc.Sector, err = models.ParseSector(f.sector); err != nil {
		return doc, err
	}
	if f.region != "" {
		if doc.Region, err = models.ParseRegion(f.region); err != nil {
			return doc, err
		}
	}
	if len(f.jurisdictions) > 0 {
		if doc.Jurisdictions, err = models.ParseJurisdictions(f.jurisdictions); err != nil {
			return doc, err
		}
	}
	if f.docType != "" {
		if doc.DocumentType, err = models.ParseDocumentType(f.docType); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (a *app) registerCmd() *cobra.Command {
	var f registerFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a stored document for lazy indexing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := f.document()
			if err != nil {
				return err
			}
			doc.Normalize()
			created, err := a.svc.Register(cmd.Context(), doc, f.reindex)
			if err != nil {
				return err
			}
			verb := "Updated"
			if created {
				verb = "Registered"
			}
			color.Green("✓ %s %s for %s/%s", verb, doc.ID, doc.Domain, doc.Sector)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.id, "id", "", "Document UUID")
	flags.StringVar(&f.filename, "filename", "", "Original filename")
	flags.StringVar(&f.path, "path", "", "Storage path of the document")
	flags.StringVar(&f.contentType, "content-type", models.DefaultContentType, "MIME type of the document")
	flags.StringVar(&f.domain, "domain", "", "Domain (legal, finance)")
	flags.StringVar(&f.sector, "sector", "", "Sector (fintech, greentech, healthtech, saas, ecommerce)")
	flags.StringVar(&f.region, "region", "", "Region, default global")
	flags.StringSliceVar(&f.jurisdictions, "jurisdiction", nil, "Jurisdiction tag, repeatable")
	flags.StringVar(&f.docType, "type", "", "Document type, default guide")
	flags.BoolVar(&f.reindex, "reindex", false, "Drop existing vectors and index again")
	for _, name := range []string{"id", "filename", "path", "domain", "sector"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) vectorizeCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "vectorize [id]",
		Short: "Index one document now, or every pending one with --pending",
		Args: func(cmd *cobra.Command, args []string) error {
			if pending {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending {
				return a.vectorizePending(cmd.Context())
			}
			spinner := getSpinner(" Vectorizing " + args[0])
			chunks, err := a.svc.ForceVectorize(cmd.Context(), args[0])
			_ = spinner.Finish()
			if err != nil {
				return err
			}
			color.Green("\n✓ Vectorized %d chunks", chunks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Vectorize every pending or expired document")
	return cmd
}

func (a *app) vectorizePending(ctx context.Context) error {
	docs, err := a.svc.ListFiles(ctx, models.FileFilter{
		Statuses: []models.VectorStatus{models.StatusPending, models.StatusExpired},
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		color.Cyan("Nothing to vectorize")
		return nil
	}

	bar := getProgressBar(len(docs), " Vectorizing documents")
	var chunks int
	var failures []models.Failure
	for _, doc := range docs {
		n, err := a.svc.ForceVectorize(ctx, doc.ID)
		if err != nil {
			failures = append(failures, models.Failure{ID: doc.ID, Error: err.Error()})
		}
		chunks += n
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	color.Green("\n✓ Vectorized %d documents into %d chunks", len(docs)-len(failures), chunks)
	for _, f := range failures {
		color.Red("  ✗ %s: %s", f.ID, f.Error)
	}
	return nil
}

type queryFlags struct {
	domain, sector, region, docType string
	jurisdictions                   []string
	limit                           int
	compress, raw                   bool
}

func (f queryFlags) params(text string) (models.QueryParams, error) {
	p := models.QueryParams{Query: text, Limit: f.limit}
	var err error
	if p.Domain, err = models.ParseDomain(f.domain); err != nil {
		return p, err
	}
	if p.Sector, err = models.ParseSector(f.sector); err != nil {
		return p, err
	}
	if f.region != "" {
		if p.Region, err = models.ParseRegion(f.region); err != nil {
			return p, err
		}
	}
	if len(f.jurisdictions) > 0 {
		if p.Jurisdictions, err = models.ParseJurisdictions(f.jurisdictions); err != nil {
			return p, err
		}
	}
	if f.docType != "" {
		if p.DocumentType, err = models.ParseDocumentType(f.docType); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (a *app) queryCmd() *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve context for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.params(args[0])
			if err != nil {
				return err
			}

			spinner := getSpinner(" Searching documents...")
			var result any
			var text, errText string
			var sources []models.Source
			if f.compress {
				r := a.svc.CompressedQuery(cmd.Context(), params)
				result, text, errText, sources = r, r.Context, r.Error, r.Sources
			} else {
				r := a.svc.Query(cmd.Context(), params)
				result, text, errText, sources = r, r.Context, r.Error, r.Sources
			}
			_ = spinner.Finish()
			fmt.Fprintln(cmd.OutOrStdout())

			if f.raw {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			if errText != "" {
				color.Red("Error: %s", errText)
			}
			if len(sources) == 0 {
				color.Yellow("No matching chunks")
				return nil
			}
			for _, s := range sources {
				color.Cyan("%.4f  %s#%d  [%s]", s.Score, s.Filename, s.ChunkIndex, s.Region)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.domain, "domain", "", "Domain (legal, finance)")
	flags.StringVar(&f.sector, "sector", "", "Sector")
	flags.StringVar(&f.region, "region", "", "Region; global documents are always included")
	flags.StringSliceVar(&f.jurisdictions, "jurisdiction", nil, "Jurisdiction tag, repeatable")
	flags.StringVar(&f.docType, "type", "", "Document type")
	flags.IntVar(&f.limit, "limit", 0, "Maximum number of chunks")
	flags.BoolVar(&f.compress, "compress", false, "Summarize the context with the compression model")
	flags.BoolVar(&f.raw, "json", false, "Print the raw result as JSON")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("sector")
	return cmd
}

func (a *app) filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect and delete registered documents",
	}

	var domain, sector, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter models.FileFilter
			var err error
			if domain != "" {
				if filter.Domain, err = models.ParseDomain(domain); err != nil {
					return err
				}
			}
			if sector != "" {
				if filter.Sector, err = models.ParseSector(sector); err != nil {
					return err
				}
			}
			if status != "" {
				s := models.VectorStatus(status)
				if !s.Valid() {
					return fmt.Errorf("%w: unknown vector status %q", models.ErrInvalidInput, status)
				}
				filter.Statuses = []models.VectorStatus{s}
			}

			docs, err := a.svc.ListFiles(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %3d chunks  %s/%s/%s  %s\n",
					d.ID, d.VectorStatus, d.ChunkCount, d.Domain, d.Sector, d.Region, d.Filename)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d documents\n", len(docs))
			return nil
		},
	}
	list.Flags().StringVar(&domain, "domain", "", "Filter by domain")
	list.Flags().StringVar(&sector, "sector", "", "Filter by sector")
	list.Flags().StringVar(&status, "status", "", "Filter by vector status")

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one document record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.svc.GetFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a document record and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.DeleteFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			color.Green("✓ %s (%d vectors removed)", res.Message, res.VectorsDeleted)
			return nil
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func (a *app) cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire documents nobody queried recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.config.Cleanup.MaxAgeDays
			}
			res, err := a.svc.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			color.Green("✓ %s", res.Message)
			for _, f := range res.Failures {
				color.Red("  ✗ %s: %s", f.ID, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Maximum age in days since last access")
	return cmd
}
