package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"praxis/internal/core"
	"praxis/internal/fixtures"
	"praxis/internal/repository"
	"praxis/internal/snapshot"
	"praxis/pkg/domain"
)

var entityAliases = map[string]domain.EntityType{
	"protocol":      domain.EntityProtocol,
	"protocols":     domain.EntityProtocol,
	"protocol_run":  domain.EntityProtocolRun,
	"protocol_runs": domain.EntityProtocolRun,
	"run":           domain.EntityProtocolRun,
	"runs":          domain.EntityProtocolRun,
	"resource":      domain.EntityResource,
	"resources":     domain.EntityResource,
	"machine":       domain.EntityMachine,
	"machines":      domain.EntityMachine,
}

func parseEntity(arg string) (domain.EntityType, error) {
	e, ok := entityAliases[strings.ToLower(strings.ReplaceAll(arg, "-", "_"))]
	if !ok {
		return "", fmt.Errorf("unknown entity %q (want protocols, runs, resources or machines)", arg)
	}
	return e, nil
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Initialize the database and report where it came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				_, readyErr := svc.Ready(cmd.Context())
				counts := map[domain.EntityType]int{}
				if readyErr == nil {
					var err error
					if counts, err = countAll(cmd, svc.Repo); err != nil {
						return err
					}
				}
				st := svc.Status()
				if a.jsonOutput {
					if err := a.printJSON(struct {
						Status domain.Status              `json:"status"`
						Counts map[domain.EntityType]int `json:"counts,omitempty"`
					}{st, counts}); err != nil {
						return err
					}
					return readyErr
				}
				a.printf("status: %s\n", st)
				for _, e := range []domain.EntityType{domain.EntityProtocol, domain.EntityProtocolRun, domain.EntityResource, domain.EntityMachine} {
					if n, ok := counts[e]; ok {
						a.printf("  %-13s %s\n", e, humanize.Comma(int64(n)))
					}
				}
				return readyErr
			})
		},
	}
}

func countAll(cmd *cobra.Command, repo *repository.Repository) (map[domain.EntityType]int, error) {
	ctx := cmd.Context()
	protocols, err := repo.ListProtocols(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := repo.ListProtocolRuns(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := repo.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	machines, err := repo.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	return map[domain.EntityType]int{
		domain.EntityProtocol:    len(protocols),
		domain.EntityProtocolRun: len(runs),
		domain.EntityResource:    len(resources),
		domain.EntityMachine:     len(machines),
	}, nil
}

func newListCommand(a *app) *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "list <protocols|runs|resources|machines>",
		Short: "List entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			filters, err := parseFilters(where)
			if err != nil {
				return err
			}
			return a.run(cmd, func(svc *core.Service) error {
				items, rows, err := list(cmd, svc.Repo, entity, filters)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(items)
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ACCESSION_ID\tNAME\tDETAIL")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r[0], r[1], r[2])
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "column=value equality filter (repeatable)")
	return cmd
}

func parseFilters(where []string) ([]repository.Filter, error) {
	filters := make([]repository.Filter, 0, len(where))
	for _, w := range where {
		col, val, ok := strings.Cut(w, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q (want column=value)", w)
		}
		filters = append(filters, repository.Where(col, val))
	}
	return filters, nil
}

func list(cmd *cobra.Command, repo *repository.Repository, entity domain.EntityType, filters []repository.Filter) (any, [][3]string, error) {
	ctx := cmd.Context()
	var rows [][3]string
	switch entity {
	case domain.EntityProtocol:
		items, err := repo.ListProtocols(ctx, filters...)
		for _, p := range items {
			detail := ""
			if p.IsTopLevel {
				detail = "top-level"
			}
			rows = append(rows, [3]string{p.AccessionID, p.Name, detail})
		}
		return items, rows, err
	case domain.EntityProtocolRun:
		items, err := repo.ListProtocolRuns(ctx, filters...)
		for _, r := range items {
			rows = append(rows, [3]string{r.AccessionID, deref(r.Name), fmt.Sprintf("%s %s", r.Status, humanize.Time(r.CreatedAt))})
		}
		return items, rows, err
	case domain.EntityResource:
		items, err := repo.ListResources(ctx, filters...)
		for _, r := range items {
			rows = append(rows, [3]string{r.AccessionID, r.Name, deref(r.Type)})
		}
		return items, rows, err
	default:
		items, err := repo.ListMachines(ctx, filters...)
		for _, m := range items {
			rows = append(rows, [3]string{m.AccessionID, m.Name, deref(m.Type)})
		}
		return items, rows, err
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newCreateCommand(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "create <protocol|run|resource|machine> --data '{...}'",
		Short: "Create an entity from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(svc *core.Service) error {
				created, err := create(cmd, svc.Repo, entity, []byte(data))
				if err != nil {
					return err
				}
				return a.printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "{}", "entity as a JSON object")
	return cmd
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode --data: %w", err)
	}
	return nil
}

func create(cmd *cobra.Command, repo *repository.Repository, entity domain.EntityType, data []byte) (any, error) {
	ctx := cmd.Context()
	switch entity {
	case domain.EntityProtocol:
		var p domain.Protocol
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		return repo.CreateProtocol(ctx, p)
	case domain.EntityProtocolRun:
		var r domain.ProtocolRun
		if err := decodeStrict(data, &r); err != nil {
			return nil, err
		}
		return repo.CreateProtocolRun(ctx, r)
	case domain.EntityResource:
		var r domain.Resource
		if err := decodeStrict(data, &r); err != nil {
			return nil, err
		}
		return repo.CreateResource(ctx, r)
	default:
		var m domain.Machine
		if err := decodeStrict(data, &m); err != nil {
			return nil, err
		}
		return repo.CreateMachine(ctx, m)
	}
}

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in demonstration dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				d := fixtures.Legacy()
				if err := svc.Repo.SeedFixtures(cmd.Context(), d); err != nil {
					return err
				}
				total := 0
				for _, n := range d.Counts() {
					total += n
				}
				a.printf("seeded %s rows\n", humanize.Comma(int64(total)))
				return nil
			})
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var (
		dir    string
		toBlob bool
		prefix string
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the database as a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				var offerer snapshot.Offerer = snapshot.DirOfferer{Dir: orDefault(dir, svc.Config().Snapshot.ExportDir)}
				if toBlob {
					offerer = snapshot.BlobOfferer{Store: svc.Store(), Prefix: prefix, Expiry: expiry}
				}
				b, err := svc.Snapshots.Export(cmd.Context())
				if err != nil {
					return err
				}
				location, err := offerer.Offer(cmd.Context(), b)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(map[string]any{"name": b.Name, "size_bytes": len(b.Data), "location": location})
				}
				a.printf("exported %s (%s) to %s\n", b.Name, humanize.Bytes(uint64(len(b.Data))), location)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory for the backup file (default snapshot.export_dir)")
	cmd.Flags().BoolVar(&toBlob, "blob", false, "store the backup in the configured blob store instead")
	cmd.Flags().StringVar(&prefix, "prefix", "backups/", "blob key prefix for --blob")
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "presigned URL lifetime for --blob")
	return cmd
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <backup.db>",
		Short: "Replace the database with a backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(svc *core.Service) error {
				if err := svc.Snapshots.ImportFile(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printf("imported %s (%s)\n", args[0], humanize.Bytes(uint64(info.Size())))
				return nil
			})
		},
	}
}

func newSaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write the database to the durable store and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				if err := svc.Save(cmd.Context()); err != nil {
					return err
				}
				a.printf("saved to %s:%s\n", svc.Store().Driver(), svc.Repo.SnapshotKey())
				return nil
			})
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the durable snapshot so the next start bootstraps again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(svc *core.Service) error {
				if err := svc.Reset(cmd.Context()); err != nil {
					return err
				}
				a.printf("reset %s:%s\n", svc.Store().Driver(), svc.Repo.SnapshotKey())
				return nil
			})
		},
	}
}
